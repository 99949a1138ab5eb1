package importer

import (
	"strings"
	"testing"
)

// TestGetParser tests parser lookup by source name
func TestGetParser(t *testing.T) {
	for _, source := range ValidSources() {
		p, err := GetParser(Source(source))
		if err != nil {
			t.Errorf("GetParser(%s) error = %v", source, err)
			continue
		}
		if string(p.Source()) != source {
			t.Errorf("parser source = %s, want %s", p.Source(), source)
		}
	}

	if _, err := GetParser("keepass"); err == nil {
		t.Error("GetParser should reject unknown sources")
	}
}

// TestDecodeHTMLEntities tests LastPass entity decoding
func TestDecodeHTMLEntities(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a&amp;b", "a&b"},
		{"&lt;tag&gt;", "<tag>"},
		{"say &quot;hi&quot;", `say "hi"`},
		{"it&#39;s", "it's"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := DecodeHTMLEntities(tt.in); got != tt.want {
			t.Errorf("DecodeHTMLEntities(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestFallbackService tests service name derivation from URLs
func TestFallbackService(t *testing.T) {
	tests := []struct {
		url     string
		counter int
		want    string
	}{
		{"https://www.example.com/login", 1, "example.com"},
		{"http://app.internal:8443/x", 1, "app.internal"},
		{"", 3, "imported-item-3"},
	}
	for _, tt := range tests {
		if got := FallbackService(tt.url, tt.counter); got != tt.want {
			t.Errorf("FallbackService(%q, %d) = %q, want %q", tt.url, tt.counter, got, tt.want)
		}
	}
}

// TestNormalizeValue tests whitespace trimming and NFC normalization
func TestNormalizeValue(t *testing.T) {
	// e + combining acute accent normalizes to the precomposed form.
	if got := NormalizeValue("  café  "); got != "café" {
		t.Errorf("NormalizeValue() = %q, want %q", got, "café")
	}
}

// TestLastPassParse tests LastPass CSV parsing
func TestLastPassParse(t *testing.T) {
	data := `url,username,password,totp,extra,name,grouping,fav
https://github.com,octocat,hunter2,,work account,GitHub,Dev,0
http://sn,,,,"my secure note text",Note Item,,0
https://example.com,user&amp;name,pw,,,,Personal,0
,,,,,Empty Item,,0
`
	p := &LastPassParser{}
	result, err := p.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(result.Credentials) != 3 {
		t.Fatalf("got %d credentials, want 3: %+v", len(result.Credentials), result.Credentials)
	}

	first := result.Credentials[0]
	if first.Service != "GitHub" || first.Username != "octocat" || first.Password != "hunter2" {
		t.Errorf("unexpected first credential: %+v", first)
	}
	if first.Notes != "work account" {
		t.Errorf("Notes = %q, want extra column content", first.Notes)
	}

	// Secure note: sn pseudo-URL dropped, note text kept.
	note := result.Credentials[1]
	if note.Service != "Note Item" || note.URL != "" || note.Notes != "my secure note text" {
		t.Errorf("unexpected secure note credential: %+v", note)
	}

	// Nameless row falls back to the URL hostname; entities decoded.
	third := result.Credentials[2]
	if third.Service != "example.com" {
		t.Errorf("Service = %q, want hostname fallback", third.Service)
	}
	if third.Username != "user&name" {
		t.Errorf("Username = %q, want decoded entities", third.Username)
	}

	if len(result.Skipped) != 1 || result.Skipped[0].Name != "Empty Item" {
		t.Errorf("Skipped = %+v, want the empty item", result.Skipped)
	}
}

// TestLastPassParseRejectsMissingName tests header validation
func TestLastPassParseRejectsMissingName(t *testing.T) {
	p := &LastPassParser{}
	if _, err := p.Parse([]byte("url,username,password\nhttps://x.com,u,p\n")); err == nil {
		t.Error("Parse() should reject CSV without a name column")
	}
}

// TestLastPassParseBOM tests that a UTF-8 BOM is tolerated
func TestLastPassParseBOM(t *testing.T) {
	data := "\xEF\xBB\xBFurl,username,password,totp,extra,name,grouping,fav\nhttps://a.com,u,p,,,A,,0\n"
	p := &LastPassParser{}
	result, err := p.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(result.Credentials) != 1 {
		t.Fatalf("got %d credentials, want 1", len(result.Credentials))
	}
}

// TestBitwardenParse tests Bitwarden JSON parsing
func TestBitwardenParse(t *testing.T) {
	data := `{
		"items": [
			{
				"type": 1,
				"name": "GitHub",
				"notes": "work",
				"login": {
					"uris": [{"uri": "https://github.com"}],
					"username": "octocat",
					"password": "hunter2",
					"totp": "JBSWY3DP"
				}
			},
			{
				"type": 2,
				"name": "Recovery Codes",
				"notes": "1234 5678"
			},
			{
				"type": 3,
				"name": "Visa"
			},
			{
				"type": 1,
				"name": "Broken"
			}
		]
	}`
	p := &BitwardenParser{}
	result, err := p.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(result.Credentials) != 2 {
		t.Fatalf("got %d credentials, want 2: %+v", len(result.Credentials), result.Credentials)
	}

	login := result.Credentials[0]
	if login.Service != "GitHub" || login.URL != "https://github.com" {
		t.Errorf("unexpected login credential: %+v", login)
	}
	if !strings.Contains(login.Notes, "TOTP seed: JBSWY3DP") {
		t.Errorf("Notes = %q, want TOTP seed appended", login.Notes)
	}

	note := result.Credentials[1]
	if note.Service != "Recovery Codes" || note.Notes != "1234 5678" {
		t.Errorf("unexpected secure note credential: %+v", note)
	}

	// Card skipped, login without login data skipped.
	if len(result.Skipped) != 2 {
		t.Errorf("Skipped = %+v, want 2 items", result.Skipped)
	}
}

// TestBitwardenParseRejectsInvalidJSON tests input validation
func TestBitwardenParseRejectsInvalidJSON(t *testing.T) {
	p := &BitwardenParser{}
	if _, err := p.Parse([]byte("not json")); err == nil {
		t.Error("Parse() should reject invalid JSON")
	}
}

// TestOnePasswordParse tests 1Password CSV parsing
func TestOnePasswordParse(t *testing.T) {
	data := `Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes
GitHub,https://github.com,octocat,hunter2,,false,false,dev,work account
Old Login,https://old.example.com,user,pw,,false,true,,
,https://bare.example.com,someone,secret,,false,false,,
`
	p := &OnePasswordParser{}
	result, err := p.Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if len(result.Credentials) != 2 {
		t.Fatalf("got %d credentials, want 2: %+v", len(result.Credentials), result.Credentials)
	}
	if result.Credentials[0].Service != "GitHub" || result.Credentials[0].Notes != "work account" {
		t.Errorf("unexpected first credential: %+v", result.Credentials[0])
	}
	if result.Credentials[1].Service != "bare.example.com" {
		t.Errorf("Service = %q, want hostname fallback", result.Credentials[1].Service)
	}

	if len(result.Skipped) != 1 || result.Skipped[0].Reason != "archived" {
		t.Errorf("Skipped = %+v, want the archived item", result.Skipped)
	}
}
