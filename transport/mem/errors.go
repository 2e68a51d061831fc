package mem

import "syscall"

// errConnRefused makes a missing server classify like a refused socket.
var errConnRefused error = syscall.ECONNREFUSED
