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

package loader

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"thcore.dev/thcore/pkg/errors/linuxerr"
)

func TestParseInterpreterScript(t *testing.T) {
	for _, tc := range []struct {
		name       string
		data       string
		argv       []string
		wantInterp string
		wantArgv   []string
	}{
		{
			name:       "no argument",
			data:       "#!/bin/sh\necho hi\n",
			argv:       []string{"script", "a"},
			wantInterp: "/bin/sh",
			wantArgv:   []string{"/bin/sh", "/tmp/script", "a"},
		},
		{
			name:       "argument",
			data:       "#! /usr/bin/env python3\n",
			argv:       []string{"script"},
			wantInterp: "/usr/bin/env",
			wantArgv:   []string{"/usr/bin/env", "python3", "/tmp/script"},
		},
		{
			name:       "argument keeps whitespace",
			data:       "#!/bin/awk -f  -x\n",
			argv:       []string{"script"},
			wantInterp: "/bin/awk",
			wantArgv:   []string{"/bin/awk", "-f  -x", "/tmp/script"},
		},
		{
			name:       "tab separator",
			data:       "#!/bin/sh\t-e",
			wantInterp: "/bin/sh",
			wantArgv:   []string{"/bin/sh", "-e", "/tmp/script"},
		},
		{
			name:       "long line truncated",
			data:       "#!/bin/" + strings.Repeat("x", 200) + "\n",
			wantInterp: "/bin/" + strings.Repeat("x", scriptMaxLine-len("#!/bin/")),
			wantArgv:   []string{"/bin/" + strings.Repeat("x", scriptMaxLine-len("#!/bin/")), "/tmp/script"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			interp, argv, err := ParseInterpreterScript("/tmp/script", []byte(tc.data), tc.argv)
			if err != nil {
				t.Fatalf("ParseInterpreterScript failed: %v", err)
			}
			if interp != tc.wantInterp {
				t.Errorf("interpreter = %q, want %q", interp, tc.wantInterp)
			}
			if diff := cmp.Diff(tc.wantArgv, argv); diff != "" {
				t.Errorf("argv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseInterpreterScriptErrors(t *testing.T) {
	for _, data := range []string{"", "#", "\x7fELF", "#!\n", "#!   \n/bin/sh"} {
		if _, _, err := ParseInterpreterScript("/tmp/script", []byte(data), nil); !linuxerr.Equals(linuxerr.ENOEXEC, err) {
			t.Errorf("ParseInterpreterScript(%q) = %v, want ENOEXEC", data, err)
		}
	}
}
