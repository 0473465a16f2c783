// Package synctrace holds the syscall-number-to-name lookup used by
// cmd/synctrace. Per spec.md §1, the companion tracers' syscall name
// tables are named as a collaborator but not specified; this is a
// minimal x86-64 table covering the syscalls a traced program exercises
// in ordinary startup, I/O, and exit, not a transcription of
// unistd_64.h.
package synctrace

// names maps x86-64 syscall numbers to their conventional names.
var names = map[uint64]string{
	0:   "read",
	1:   "write",
	2:   "open",
	3:   "close",
	4:   "stat",
	5:   "fstat",
	8:   "lseek",
	9:   "mmap",
	10:  "mprotect",
	11:  "munmap",
	12:  "brk",
	13:  "rt_sigaction",
	14:  "rt_sigprocmask",
	21:  "access",
	59:  "execve",
	60:  "exit",
	63:  "uname",
	89:  "readlink",
	158: "arch_prctl",
	218: "set_tid_address",
	231: "exit_group",
	257: "openat",
	262: "newfstatat",
	302: "prlimit64",
	318: "getrandom",
	435: "clone3",
}

// Lookup returns the conventional name for a syscall number, or "" if
// this table doesn't carry it — cmd/synctrace falls back to printing
// syscall_<number> in that case.
func Lookup(nr uint64) string {
	return names[nr]
}
