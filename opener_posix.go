//go:build linux || darwin

package seriallink

var defaultOpener Opener = OpenPosix
