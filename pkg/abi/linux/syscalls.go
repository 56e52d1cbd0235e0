// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package linux

// Syscall numbers from the generic table (include/uapi/asm-generic/unistd.h)
// used by LoongArch.
const (
	SYS_GETCWD          = 17
	SYS_DUP             = 23
	SYS_OPENAT          = 56
	SYS_CLOSE           = 57
	SYS_READ            = 63
	SYS_WRITE           = 64
	SYS_WRITEV          = 66
	SYS_EXIT            = 93
	SYS_EXIT_GROUP      = 94
	SYS_SET_TID_ADDRESS = 96
	SYS_NANOSLEEP       = 101
	SYS_CLOCK_GETTIME   = 113
	SYS_SCHED_YIELD     = 124
	SYS_UNAME           = 160
	SYS_GETPID          = 172
	SYS_GETPPID         = 173
	SYS_GETUID          = 174
	SYS_GETEUID         = 175
	SYS_GETGID          = 176
	SYS_GETEGID         = 177
	SYS_GETTID          = 178
	SYS_BRK             = 214
	SYS_MUNMAP          = 215
	SYS_CLONE           = 220
	SYS_EXECVE          = 221
	SYS_MMAP            = 222
	SYS_MPROTECT        = 226
)
