package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestCommand_MarshalLine(t *testing.T) {
	testCases := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "update",
			cmd:  Update("/tmp/veda/in.frag"),
			want: `{"Type":"UPDATE","Args":["/tmp/veda/in.frag"]}` + "\n",
		},
		{
			name: "import",
			cmd:  ImportAsset("bg", "/home/u/video.mp4"),
			want: `{"Type":"IMPORT_VIDEO","Args":["bg","/home/u/video.mp4"]}` + "\n",
		},
		{
			name: "escaping",
			cmd:  Update(`C:\shaders\"odd".frag`),
			want: `{"Type":"UPDATE","Args":["C:\\shaders\\\"odd\".frag"]}` + "\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cmd.MarshalLine()
			if err != nil {
				t.Fatalf("MarshalLine() error = %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("MarshalLine() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCommand_Validate(t *testing.T) {
	bad := []Command{
		{Type: TypeUpdate},
		{Type: TypeImportVideo, Args: []string{"only-name"}},
		{Type: "RESIZE", Args: []string{"1"}},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%v) = nil, want error", c)
		}
		if _, err := c.MarshalLine(); err == nil {
			t.Errorf("MarshalLine(%v) = nil error, want error", c)
		}
	}
}

func TestEncode_ConcatenatesInOrder(t *testing.T) {
	var buf bytes.Buffer
	first := []Command{ImportAsset("a", "/a.mp4"), Update("/x.frag")}
	second := []Command{Update("/y.frag")}

	if err := Encode(&buf, first...); err != nil {
		t.Fatal(err)
	}
	if err := Encode(&buf, second...); err != nil {
		t.Fatal(err)
	}

	var want bytes.Buffer
	for _, c := range append(first, second...) {
		line, _ := c.MarshalLine()
		want.Write(line)
	}
	if buf.String() != want.String() {
		t.Errorf("stream = %q, want %q", buf.String(), want.String())
	}
}

type failWriter struct{ n int }

func (w *failWriter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, errors.New("broken pipe")
	}
	w.n--
	return len(p), nil
}

func TestEncode_StopsOnWriteError(t *testing.T) {
	w := &failWriter{n: 1}
	err := Encode(w, Update("/a"), Update("/b"), Update("/c"))
	if err == nil {
		t.Fatal("Encode() = nil, want error")
	}
}

func TestParseFrame(t *testing.T) {
	testCases := []struct {
		line string
		want int
		ok   bool
	}{
		{"0", 0, true},
		{"12", 12, true},
		{"  7 ", 7, true},
		{"42\r", 42, true},
		{"", 0, false},
		{"abc", 0, false},
		{"-1", 0, false},
		{"+3", 0, false},
		{"1.5", 0, false},
		{"12 frames", 0, false},
		{"99999999999999999999999", 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			f, ok := ParseFrame(tc.line)
			if ok != tc.ok {
				t.Fatalf("ParseFrame(%q) ok = %v, want %v", tc.line, ok, tc.ok)
			}
			if ok && f.Index != tc.want {
				t.Errorf("ParseFrame(%q) = %d, want %d", tc.line, f.Index, tc.want)
			}
		})
	}
}

func TestFirstUpdate(t *testing.T) {
	cmds := []Command{ImportAsset("a", "/a"), ImportAsset("b", "/b"), Update("/s"), Update("/t")}
	if got := FirstUpdate(cmds); got != 2 {
		t.Errorf("FirstUpdate() = %d, want 2", got)
	}
	if got := FirstUpdate(cmds[:2]); got != -1 {
		t.Errorf("FirstUpdate(no update) = %d, want -1", got)
	}
	if got := (Frame{Index: 3}).FileName(); got != "out3.png" {
		t.Errorf("FileName() = %q", got)
	}
	if got := cmds[1].Path(); got != "/b" {
		t.Errorf("Path() = %q", got)
	}
}
