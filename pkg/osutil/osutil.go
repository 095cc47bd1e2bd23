// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	DefaultDirPerm  = 0755
	DefaultFilePerm = 0644
)

func MkdirAll(dir string) error {
	return os.MkdirAll(dir, DefaultDirPerm)
}

func WriteFile(filename string, data []byte) error {
	return os.WriteFile(filename, data, DefaultFilePerm)
}

// WriteFileAtomic writes data into a uniquely named sibling file and renames it over filename,
// so concurrent readers never observe a partially written file.
func WriteFileAtomic(filename string, data []byte) error {
	if err := MkdirAll(filepath.Dir(filename)); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%v.%v.tmp", filename, uuid.New().String())
	if err := WriteFile(tmp, data); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %v: %w", tmp, err)
	}
	return nil
}
