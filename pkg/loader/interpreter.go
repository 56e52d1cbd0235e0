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
	"bytes"

	"thcore.dev/thcore/pkg/errors/linuxerr"
	"thcore.dev/thcore/pkg/log"
)

const (
	// scriptMagic identifies an interpreter script.
	scriptMagic = "#!"

	// scriptMaxLine is the maximum length of the first line of an
	// interpreter script, including the magic. Longer lines are truncated.
	scriptMaxLine = 127
)

// IsInterpreterScript returns true if data starts with "#!".
func IsInterpreterScript(data []byte) bool {
	return bytes.HasPrefix(data, []byte(scriptMagic))
}

// ParseInterpreterScript parses the "#!" line at the start of data and
// returns the interpreter path and the argument vector to run it with.
//
// The new argv is the interpreter, the optional single interpreter argument
// (everything after the first space or tab, whitespace included), then argv
// with argv[0] replaced by filename.
func ParseInterpreterScript(filename string, data []byte, argv []string) (string, []string, error) {
	line := data
	if len(line) > scriptMaxLine {
		line = line[:scriptMaxLine]
	}
	if !IsInterpreterScript(line) {
		return "", nil, linuxerr.ENOEXEC
	}
	line = line[len(scriptMagic):]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimLeft(line, " \t")

	interp := line
	var arg []byte
	if i := bytes.IndexAny(line, " \t"); i >= 0 {
		interp = line[:i]
		arg = line[i+1:]
	}
	if len(interp) == 0 {
		log.Infof("Interpreter script %q names no interpreter", filename)
		return "", nil, linuxerr.ENOEXEC
	}

	newargv := []string{string(interp)}
	if len(arg) > 0 {
		newargv = append(newargv, string(arg))
	}
	newargv = append(newargv, filename)
	if len(argv) > 1 {
		newargv = append(newargv, argv[1:]...)
	}
	return string(interp), newargv, nil
}
