//go:build linux

package logger

// ioctlReadTermios is the ioctl number for reading terminal attributes on Linux.
const ioctlReadTermios = 0x5401 // TCGETS
