package utils

import "testing"

func TestExtractURLs(t *testing.T) {
	urls := ExtractURLs("join t.me/spamchan or https://example.com/x and tg://resolve?domain=abcd")
	if len(urls) != 3 {
		t.Fatalf("expected 3 urls, got %v", urls)
	}
	if urls[0] != "t.me/spamchan" {
		t.Fatalf("unexpected first url %q", urls[0])
	}
}

func TestHostnameAddsScheme(t *testing.T) {
	host, ok := Hostname("T.ME/Chan")
	if !ok || host != "t.me" {
		t.Fatalf("unexpected host %q ok=%v", host, ok)
	}
}

func TestDecodedHosts(t *testing.T) {
	hosts := DecodedHosts("смотри https://xn--80akhbyknj4f.xn--p1ai/page и https://example.com")
	if len(hosts) != 1 || hosts[0] != "испытание.рф" {
		t.Fatalf("unexpected decoded hosts %v", hosts)
	}
}
