package actionloop

import (
	"errors"
	"strings"
	"testing"
)

func TestParseWriteFile(t *testing.T) {
	response := `I'll create the file now.

<write_file path="src/hello.go">
package main

func main() {}
</write_file>

That should do it.`

	turn, err := Parse(response)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	muts := turn.Mutations()
	if len(muts) != 1 {
		t.Fatalf("expected 1 mutation, got %d", len(muts))
	}
	wf := muts[0].WriteFile
	if wf == nil {
		t.Fatal("expected a write_file action")
	}
	if wf.Path != "src/hello.go" {
		t.Errorf("path = %q, want src/hello.go", wf.Path)
	}
	if want := "package main\n\nfunc main() {}"; wf.Content != want {
		t.Errorf("content = %q, want %q", wf.Content, want)
	}
}

func TestParseWriteFileRawCodeCharacters(t *testing.T) {
	// Raw &, <, > in bodies must survive; the protocol does not require
	// models to escape code.
	response := `<write_file path="cmp.c">
#include <stdio.h>
int less(int a, int b) { return a < b && b > 0; }
</write_file>`

	turn, err := Parse(response)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	content := turn.Mutations()[0].WriteFile.Content
	if !strings.Contains(content, "#include <stdio.h>") {
		t.Errorf("include line mangled: %q", content)
	}
	if !strings.Contains(content, "a < b && b > 0") {
		t.Errorf("comparison mangled: %q", content)
	}
}

func TestParseEditFile(t *testing.T) {
	response := `<edit_file path="main.go">
<old>
foo := 1
</old>
<new>
foo := 2
</new>
<old>
bar()
</old>
<new>
baz()
</new>
</edit_file>`

	turn, err := Parse(response)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	ef := turn.Mutations()[0].EditFile
	if ef == nil {
		t.Fatal("expected an edit_file action")
	}
	if len(ef.Edits) != 2 {
		t.Fatalf("expected 2 edit instructions, got %d", len(ef.Edits))
	}
	if ef.Edits[0].Old != "foo := 1" || ef.Edits[0].New != "foo := 2" {
		t.Errorf("first pair = %q -> %q", ef.Edits[0].Old, ef.Edits[0].New)
	}
	if ef.ReplaceAll {
		t.Error("replace_all should default to false")
	}
}

func TestParseEditFileReplaceAll(t *testing.T) {
	response := `<edit_file path="main.go" replace_all="true">
<old>v1</old>
<new>v2</new>
</edit_file>`

	turn, err := Parse(response)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !turn.Mutations()[0].EditFile.ReplaceAll {
		t.Error("replace_all attribute not honored")
	}
}

func TestParseMutationOrder(t *testing.T) {
	response := `<edit_file path="b.go">
<old>x</old>
<new>y</new>
</edit_file>
<write_file path="a.go">
content
</write_file>`

	turn, err := Parse(response)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	muts := turn.Mutations()
	if len(muts) != 2 {
		t.Fatalf("expected 2 mutations, got %d", len(muts))
	}
	// Emission order, not grouped by kind.
	if muts[0].Kind != ActionEditFile || muts[1].Kind != ActionWriteFile {
		t.Errorf("order = %s, %s; want edit_file, write_file", muts[0].Kind, muts[1].Kind)
	}
}

func TestParseNeedContext(t *testing.T) {
	response := `<need_context>
<file path="src/main.go" />
<grep pattern="TODO" scope="src" />
<list_dir path="internal" />
<api_overview header="vector.h" />
</need_context>`

	turn, err := Parse(response)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	nc := turn.NeedContext()
	if nc == nil {
		t.Fatal("expected a need_context action")
	}
	if len(nc.Requests) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(nc.Requests))
	}
	if nc.Requests[0].Kind != RequestFile || nc.Requests[0].File.Path != "src/main.go" {
		t.Errorf("request 0 = %+v", nc.Requests[0])
	}
	if nc.Requests[1].Grep.Pattern != "TODO" || nc.Requests[1].Grep.Scope != "src" {
		t.Errorf("request 1 = %+v", nc.Requests[1].Grep)
	}
	if nc.Requests[3].APIOverview.Header != "vector.h" {
		t.Errorf("request 3 = %+v", nc.Requests[3].APIOverview)
	}
}

func TestParseNeedContextDefaults(t *testing.T) {
	response := `<need_context>
<read_file path="a.go" />
<grep pattern="init" />
<list_dir />
</need_context>`

	turn, err := Parse(response)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	reqs := turn.NeedContext().Requests
	if reqs[0].Kind != RequestFile {
		t.Errorf("read_file should alias file, got %s", reqs[0].Kind)
	}
	if reqs[1].Grep.Scope != "." {
		t.Errorf("grep scope default = %q, want .", reqs[1].Grep.Scope)
	}
	if reqs[2].ListDir.Path != "." {
		t.Errorf("list_dir path default = %q, want .", reqs[2].ListDir.Path)
	}
}

func TestParseMultipleNeedContextBlocksMerge(t *testing.T) {
	response := `<need_context>
<file path="a.go" />
</need_context>
<need_context>
<file path="b.go" />
</need_context>`

	turn, err := Parse(response)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := len(turn.NeedContext().Requests); got != 2 {
		t.Errorf("merged requests = %d, want 2", got)
	}
}

func TestParseDone(t *testing.T) {
	turn, err := Parse(`<done>
Added the flag and updated the docs.
</done>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	done := turn.Done()
	if done == nil {
		t.Fatal("expected a done action")
	}
	if done.Summary != "Added the flag and updated the docs." {
		t.Errorf("summary = %q", done.Summary)
	}
}

func TestParseDoneSelfClosing(t *testing.T) {
	turn, err := Parse(`All finished. <done />`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if turn.Done() == nil {
		t.Fatal("expected a done action")
	}
}

func TestParseWriteThenDone(t *testing.T) {
	response := `<write_file path="a.txt">
hi
</write_file>
<done>wrote a.txt</done>`

	turn, err := Parse(response)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(turn.Mutations()) != 1 || turn.Done() == nil {
		t.Errorf("expected one mutation plus done, got %d actions", len(turn.Actions))
	}
}

func TestParseMixedTurnRejected(t *testing.T) {
	response := `<need_context>
<file path="a.go" />
</need_context>
<write_file path="b.go">
x
</write_file>`

	_, err := Parse(response)
	var mixed *MixedTurnError
	if !errors.As(err, &mixed) {
		t.Fatalf("expected MixedTurnError, got %v", err)
	}
}

func TestParseNeedContextWithDoneRejected(t *testing.T) {
	_, err := Parse(`<need_context><file path="a.go" /></need_context><done />`)
	var mixed *MixedTurnError
	if !errors.As(err, &mixed) {
		t.Fatalf("expected MixedTurnError, got %v", err)
	}
}

func TestParseUnknownTag(t *testing.T) {
	_, err := Parse(`<delete_file path="a.go" />`)
	var unknown *UnknownTagError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTagError, got %v", err)
	}
	if unknown.Tag != "delete_file" {
		t.Errorf("Tag = %q, want delete_file", unknown.Tag)
	}
	if !strings.Contains(err.Error(), "delete_file") {
		t.Errorf("error message should name the tag: %q", err.Error())
	}
}

func TestParseEmptyResponse(t *testing.T) {
	for _, response := range []string{"", "   \n", "I think we should refactor this module first."} {
		_, err := Parse(response)
		var empty *EmptyActionError
		if !errors.As(err, &empty) {
			t.Errorf("Parse(%q): expected EmptyActionError, got %v", response, err)
		}
	}
}

func TestParseProseWithAngleBrackets(t *testing.T) {
	// "<stdio.h>" in prose is not an action tag; with no actions present
	// the result is empty, not unknown-tag.
	_, err := Parse(`You should include <stdio.h> before continuing.`)
	var empty *EmptyActionError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptyActionError, got %v", err)
	}
}

func TestParseMissingPathAttribute(t *testing.T) {
	_, err := Parse(`<write_file>
content
</write_file>`)
	var malformed *MalformedActionError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedActionError, got %v", err)
	}
	if malformed.Tag != "write_file" {
		t.Errorf("Tag = %q, want write_file", malformed.Tag)
	}
}

func TestParseUnterminatedWriteFile(t *testing.T) {
	_, err := Parse(`<write_file path="a.go">
package main
`)
	var malformed *MalformedActionError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedActionError, got %v", err)
	}
	if malformed.Reason != "unterminated tag" {
		t.Errorf("Reason = %q", malformed.Reason)
	}
}

func TestParseEditFileWithoutPairs(t *testing.T) {
	_, err := Parse(`<edit_file path="a.go">
nothing useful
</edit_file>`)
	var malformed *MalformedActionError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedActionError, got %v", err)
	}
	if malformed.Tag != "edit_file" {
		t.Errorf("Tag = %q, want edit_file", malformed.Tag)
	}
}

func TestParseAttributeEntityDecoding(t *testing.T) {
	turn, err := Parse(`<need_context>
<grep pattern="a &amp;&amp; b" />
</need_context>`)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := turn.NeedContext().Requests[0].Grep.Pattern; got != "a && b" {
		t.Errorf("pattern = %q, want %q", got, "a && b")
	}
}

func TestIsProtocolError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&EmptyActionError{}, true},
		{&UnknownTagError{Tag: "x"}, true},
		{&MalformedActionError{Tag: "done"}, true},
		{&MixedTurnError{}, true},
		{&FileNotFoundError{Path: "a"}, false},
		{errors.New("io"), false},
	}
	for _, tc := range cases {
		if got := IsProtocolError(tc.err); got != tc.want {
			t.Errorf("IsProtocolError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
