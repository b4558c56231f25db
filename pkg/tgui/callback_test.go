package tgui

import "testing"

func TestDataRoundTrip(t *testing.T) {
	cases := []struct {
		scope, action, payload string
		want                   string
	}{
		{"event", "enter", "42", "event:enter:42"},
		{"event", "signup", "", "event:signup"},
		{"bingo", "approve", "a:b", "bingo:approve:a:b"},
	}
	for _, c := range cases {
		got := Data(c.scope, c.action, c.payload)
		if got != c.want {
			t.Fatalf("Data(%q,%q,%q) = %q, want %q", c.scope, c.action, c.payload, got, c.want)
		}
		scope, action, payload, err := ParseData(got)
		if err != nil {
			t.Fatalf("parse %q: %v", got, err)
		}
		if scope != c.scope || action != c.action || payload != c.payload {
			t.Fatalf("parse %q = (%q,%q,%q)", got, scope, action, payload)
		}
	}
}

func TestParseDataMalformed(t *testing.T) {
	for _, data := range []string{"", "justscope", ":action", "scope:"} {
		if _, _, _, err := ParseData(data); err == nil {
			t.Fatalf("ParseData(%q) accepted", data)
		}
	}
}

func TestEscAndHelpers(t *testing.T) {
	if got := B("<x>").String(); got != "<b>&lt;x&gt;</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := Mention("", 7).String(); got != `<a href="tg://user?id=7">user 7</a>` {
		t.Fatalf("Mention = %q", got)
	}
	if got := Lines(B("a"), "", I("b")).String(); got != "<b>a</b>\n<i>b</i>" {
		t.Fatalf("Lines = %q", got)
	}
}
