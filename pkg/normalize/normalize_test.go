// Copyright 2026 logspam project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package normalize

import (
	"math/rand"
	"strings"
	"testing"
)

func TestLine(t *testing.T) {
	tests := []struct {
		in, out string
	}{
		{
			"",
			"",
		},
		{
			"   WARNING: NS_ENSURE_TRUE(mDocShell) failed   ",
			"WARNING: NS_ENSURE_TRUE(mDocShell) failed",
		},
		{
			"[task 2016-09-20T11:09:35.539828Z] 11:09:35     INFO -  PROCESS | 1234 | " +
				"[Parent 1234] WARNING: NS_ENSURE_SUCCESS(rv, rv) failed with result 0x80004005: " +
				"file /home/worker/workspace/build/src/dom/base/nsDocument.cpp, line 1234",
			"WARNING: NS_ENSURE_SUCCESS(rv, rv) failed with result 0x80004005: " +
				"file dom/base/nsDocument.cpp, line 1234",
		},
		{
			`{"action": "log", "level": "INFO", "data": "GECKO(1265) | [Child 42] WARNING: foo: file /builds/worker/checkouts/gecko/xpcom/bar.cpp, line 7"}`,
			"WARNING: foo: file xpcom/bar.cpp, line 7",
		},
		{
			"PID 13497 |  WARNING: leaked docshell=1caa2c00 window=7f00ab",
			"WARNING: leaked docshell=NNNNNN window=NNNNNN",
		},
		{
			"12:01:02 INFO - c:/builds/moz2_slave/m-cen-w32-d-000000000000000000/build/src/layout/base/x.cpp",
			"layout/base/x.cpp",
		},
		{
			"z:/build/build/src/gfx/thebes/y.cpp",
			"gfx/thebes/y.cpp",
		},
		{
			"[1355, Main Thread] WARNING: Not on main thread",
			"WARNING: Not on main thread",
		},
		{
			"1520 INFO TEST-START | dom/tests/test_a.html",
			"TEST-START | dom/tests/test_a.html",
		},
		{
			// Not an envelope: no data field.
			`{"action": "test_start", "test": "a.html"}`,
			`{"action": "test_start", "test": "a.html"}`,
		},
		{
			// Not an envelope: data is not a string.
			`{"data": 5}`,
			`{"data": 5}`,
		},
		{
			// A prefix exposed by stripping another prefix is stripped as well.
			"PID 1 | PROCESS | 2 | WARNING: nested",
			"WARNING: nested",
		},
		{
			"WARNING: bad bytes \xff\xfe here",
			"WARNING: bad bytes \uFFFD here",
		},
	}
	for i, test := range tests {
		got := Line([]byte(test.in))
		if got != test.out {
			t.Errorf("#%v: normalize(%q)\ngot:  %q\nwant: %q", i, test.in, got, test.out)
		}
		if again := String(got); again != got {
			t.Errorf("#%v: not idempotent: %q -> %q", i, got, again)
		}
	}
}

func TestIdempotence(t *testing.T) {
	pieces := []string{
		"[task 2016-09-20T11:09:35Z] ", "11:09:35 INFO - ", "12 INFO ", "PROCESS | 7 | ", "PID 9 | ",
		"[Child 12]", "[Parent 3]", "[77]", "GECKO(5) |", "[1, Main Thread] ", " ", "  ",
		"/home/worker/workspace/build/src/", "/builds/worker/checkouts/gecko/", "z:/build/build/src/",
		"c:/builds/slave/dir/build/src/", "=", "=abc1", "=NNNNNN", "WARNING: ", "foo", "bar.cpp",
		", line 12", `{"data": "`, `"}`, "\xff", "[", "]", "|",
	}
	rnd := rand.New(rand.NewSource(0))
	for i := 0; i < 20000; i++ {
		var b strings.Builder
		for n := rnd.Intn(8); n >= 0; n-- {
			b.WriteString(pieces[rnd.Intn(len(pieces))])
		}
		once := Line([]byte(b.String()))
		if twice := String(once); twice != once {
			t.Fatalf("not idempotent for %q:\nonce:  %q\ntwice: %q", b.String(), once, twice)
		}
	}
}

func FuzzLine(f *testing.F) {
	f.Add([]byte("PID 13497 |  WARNING: x=1caa2c00"))
	f.Add([]byte(`{"data": "[task x] WARNING"}`))
	f.Fuzz(func(t *testing.T, data []byte) {
		once := Line(data)
		if twice := String(once); twice != once {
			t.Fatalf("not idempotent: %q -> %q", once, twice)
		}
	})
}
