// Copyright 2018 The gVisor Authors.
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

package log

import (
	"os"
	"runtime"
	"strings"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter

	// ID fills the thread ID column. Zero means the host process ID.
	ID int
}

// idWidth is the padding glog uses for the thread ID column.
const idWidth = 7

var hostPID = os.Getpid()

// buffer is an inline line buffer. data normally aliases local, so building
// a header does not allocate.
type buffer struct {
	local [256]byte
	data  []byte
}

func (b *buffer) start() {
	b.data = b.local[:0]
}

func (b *buffer) String() string {
	return string(b.data)
}

func (b *buffer) write(c byte) {
	b.data = append(b.data, c)
}

func (b *buffer) writeString(s string) {
	b.data = append(b.data, s...)
}

// writeDigits writes the low n decimal digits of v, zero padded.
func (b *buffer) writeDigits(v, n int) {
	for i := n - 1; i >= 0; i-- {
		b.write('0' + byte(v/pow10[i]%10))
	}
}

var pow10 = [...]int{1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000, 1000000000}

// writeInt writes v in decimal, right aligned to width with spaces.
func (b *buffer) writeInt(v, width int) {
	if v < 0 {
		b.write('-')
		v = -v
		width--
	}
	n := 1
	for n < len(pow10) && v >= pow10[n] {
		n++
	}
	for ; width > n; width-- {
		b.write(' ')
	}
	b.writeDigits(v, n)
}

// Emit emits the message, google-style:
//
//	Lmmdd hh:mm:ss.uuuuuu threadid file:line] msg
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	var b buffer
	b.start()

	switch level {
	case Debug:
		b.write('D')
	case Info:
		b.write('I')
	case Warning:
		b.write('W')
	}

	_, month, day := timestamp.Date()
	hour, minute, second := timestamp.Clock()
	b.writeDigits(int(month), 2)
	b.writeDigits(day, 2)
	b.write(' ')
	b.writeDigits(hour, 2)
	b.write(':')
	b.writeDigits(minute, 2)
	b.write(':')
	b.writeDigits(second, 2)
	b.write('.')
	b.writeDigits(timestamp.Nanosecond()/1000, 6)
	b.write(' ')

	id := g.ID
	if id == 0 {
		id = hostPID
	}
	b.writeInt(id, idWidth)
	b.write(' ')

	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
			file = file[slash+1:]
		}
		b.writeString(file)
		b.write(':')
		b.writeInt(line, 0)
	} else {
		b.writeString("???:0")
	}
	b.writeString("] ")
	b.writeString(format)
	b.write('\n')

	g.Emitter.Emit(depth+1, level, timestamp, b.String(), args...)
}
