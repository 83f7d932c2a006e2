package kbModel

import "testing"

func TestDocTypeFromFileName(t *testing.T) {
	cases := []struct {
		name string
		want DocType
	}{
		{"report.pdf", PDF},
		{"REPORT.PDF", PDF},
		{"notes.Txt", TXT},
		{"readme.md", MD},
		{"contract.docx", DOCX},
		{"archive.tar.gz", ERR},
		{"noextension", ERR},
	}
	for _, c := range cases {
		if got := DocTypeFromFileName(c.name); got != c.want {
			t.Errorf("DocTypeFromFileName(%q) = %s; want %s", c.name, got, c.want)
		}
	}
}

func TestValidTransition(t *testing.T) {
	allowed := []struct{ from, to DocStatus }{
		{DocStatusPending, DocStatusProcessing},
		{DocStatusProcessing, DocStatusIndexed},
		{DocStatusProcessing, DocStatusFailed},
		{DocStatusFailed, DocStatusPending},
		{DocStatusIndexed, DocStatusPending}, //reconciler re-queue
		{DocStatusPending, DocStatusDeleting},
		{DocStatusIndexed, DocStatusDeleting},
	}
	for _, e := range allowed {
		if !ValidTransition(e.from, e.to) {
			t.Errorf("%s -> %s should be allowed", e.from, e.to)
		}
	}

	denied := []struct{ from, to DocStatus }{
		{DocStatusPending, DocStatusIndexed},
		{DocStatusIndexed, DocStatusProcessing},
		{DocStatusFailed, DocStatusIndexed},
		{DocStatusDeleting, DocStatusPending},
	}
	for _, e := range denied {
		if ValidTransition(e.from, e.to) {
			t.Errorf("%s -> %s should be rejected", e.from, e.to)
		}
	}
}
