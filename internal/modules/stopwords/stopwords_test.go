package stopwords

import "testing"

func TestMatchIsCaseInsensitive(t *testing.T) {
	found := Match("тут РЕКЛАМА дешево", []string{"реклама"})
	if len(found) != 1 || found[0] != "реклама" {
		t.Fatalf("expected match, got %v", found)
	}
}

func TestMatchKeepsStoredOrder(t *testing.T) {
	found := Match("casino and free money, casino again", []string{"money", "", "casino", "poker"})
	if len(found) != 2 || found[0] != "money" || found[1] != "casino" {
		t.Fatalf("unexpected matches %v", found)
	}
}

func TestMatchIgnoresSafeText(t *testing.T) {
	if found := Match("всем привет", []string{"реклама"}); len(found) != 0 {
		t.Fatalf("did not expect matches, got %v", found)
	}
}

func TestReasonTruncates(t *testing.T) {
	got := Reason(PrefixMessage, []string{"a", "b", "c", "d"}, 3)
	if got != "стоп-слова: a, b, c" {
		t.Fatalf("unexpected reason %q", got)
	}
	if got := Reason(PrefixEdit, []string{"a"}, 1); got != "стоп-слова в редактировании: a" {
		t.Fatalf("unexpected reason %q", got)
	}
}
