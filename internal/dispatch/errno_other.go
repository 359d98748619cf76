//go:build !linux

package dispatch

import "golang.org/x/sys/unix"

const errNoAttr = unix.ENOATTR
