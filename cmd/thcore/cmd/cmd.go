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

// Package cmd holds implementations of the thcore commands.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"thcore.dev/thcore/pkg/config"
	"thcore.dev/thcore/pkg/hostarch"
	"thcore.dev/thcore/pkg/loader"
	"thcore.dev/thcore/pkg/log"
)

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	log.Warningf("FATAL ERROR: "+format, args...)
	os.Exit(128)
}

// stringSlice is a flag that may be repeated.
type stringSlice []string

// String implements flag.Value.String.
func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

// Get implements flag.Getter.Get.
func (s *stringSlice) Get() any {
	return s
}

// Set implements flag.Value.Set.
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// parseELF maps the file at path and parses it with the user layout of conf.
// The returned file must be closed once the image data is no longer needed.
func parseELF(conf *config.Config, path string, bias int64) (*loader.File, *loader.Image, error) {
	f, err := loader.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	img, err := loader.Parse(f.Data(), hostarch.Addr(conf.User.InterpBase), bias, hostarch.Addr(conf.User.SpaceBase))
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, img, nil
}
