package patterns

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegistryInit(t *testing.T) {
	// Get should return a singleton registry
	r1 := Get()
	r2 := Get()

	if r1 != r2 {
		t.Error("Get() should return the same registry instance")
	}
	if r1.TotalPatterns() == 0 {
		t.Error("registry has no patterns after init")
	}
	t.Logf("Registry loaded %d patterns", r1.TotalPatterns())
}

func TestCategoryPatterns(t *testing.T) {
	r := Get()

	testCases := []struct {
		category    Category
		minPatterns int
	}{
		{CategorySpoofing, 10},
		{CategoryInjection, 12},
		{CategoryFlooding, 4},
		{CategoryExploit, 8},
		{CategoryCommand, 3},
		{CategoryCredential, 4},
		{CategoryURL, 2},
		{CategorySafe, 10},
	}

	for _, tc := range testCases {
		t.Run(string(tc.category), func(t *testing.T) {
			patterns := r.GetByCategory(tc.category)
			if len(patterns) < tc.minPatterns {
				t.Errorf("category %s: expected at least %d patterns, got %d",
					tc.category, tc.minPatterns, len(patterns))
			}
			t.Logf("Category %s: %d patterns", tc.category, len(patterns))
		})
	}
}

func TestWeightsInRange(t *testing.T) {
	r := Get()
	for _, cat := range []Category{
		CategorySpoofing, CategoryInjection, CategoryFlooding, CategoryExploit,
		CategoryCommand, CategoryCredential, CategoryURL, CategorySafe,
	} {
		for _, p := range r.GetByCategory(cat) {
			if p.Weight <= 0 || p.Weight > 1 {
				t.Errorf("pattern %s has weight %v outside (0,1]", p.Name, p.Weight)
			}
		}
	}
}

func TestInjectionMatchesCommandPayload(t *testing.T) {
	r := Get()
	payload := `{ "command": "delete_files", "target": "*" }`

	matches := r.MatchAll(payload, CategoryInjection)
	if len(matches) < 2 {
		t.Fatalf("command payload matched %d injection patterns, want >= 2", len(matches))
	}

	names := make(map[string]bool, len(matches))
	for _, m := range matches {
		names[m.Name] = true
	}
	if !names["json_command_field"] {
		t.Error("json_command_field did not match command payload")
	}
	if !names["destructive_command"] {
		t.Error("destructive_command did not match delete_files")
	}
}

func TestSpoofingSignalOrdering(t *testing.T) {
	r := Get()
	high := "URGENT: verify now at http://x.co"
	low := "Check this: http://x.co"

	highN := len(r.MatchAll(high, CategorySpoofing))
	lowN := len(r.MatchAll(low, CategorySpoofing))

	if highN <= lowN {
		t.Errorf("high-signal phish matched %d patterns, low-signal %d, want strictly more", highN, lowN)
	}
	if lowN == 0 {
		t.Error("shortened URL alone should still match at least one spoofing pattern")
	}
}

func TestExploitPatterns(t *testing.T) {
	r := Get()

	testCases := []struct {
		name string
		text string
		want bool
	}{
		{"at_command", "AT+CMGR=1", true},
		{"at_command_lowercase", "at+cpbr=1,100", true},
		{"hex_escape_run", `\x41\x41\x41\x41\x41\x41\x90\x90`, true},
		{"format_string", "%s%s%s%n", true},
		{"filler_run", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", true},
		{"plain_chat", "at the station, call me", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.MatchAny(tc.text, CategoryExploit) != nil
			if got != tc.want {
				t.Errorf("MatchAny(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestSafePhrases(t *testing.T) {
	r := Get()

	testCases := []struct {
		text string
		want bool
	}{
		{"Hello, how are you today?", true},
		{"hello", true},
		{"Hey there!", true},
		{"Good morning", true},
		{"I'm fine, thanks", true},
		{"ok", true},
		{"Thanks so much!", true},
		{"See you later", true},
		{"on my way", true},
		{"URGENT: verify now at http://x.co", false},
		{"Hello, how are you today? Click here", false},
		{"send me your password", false},
		{"", false},
	}

	for _, tc := range testCases {
		t.Run(tc.text, func(t *testing.T) {
			if got := r.IsSafePhrase(tc.text); got != tc.want {
				t.Errorf("IsSafePhrase(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestMatchAnyMissReturnsNil(t *testing.T) {
	r := Get()
	benign := "just a quiet ordinary message about lunch"

	if p := r.MatchAny(benign, CategoryInjection, CategoryExploit); p != nil {
		t.Errorf("unexpected match %s on benign text", p.Name)
	}
	if got := r.MatchAll(benign, CategoryInjection); len(got) != 0 {
		t.Errorf("MatchAll returned %d matches on benign text", len(got))
	}
}

func TestGetByCategoryUnknown(t *testing.T) {
	r := Get()
	got := r.GetByCategory(Category("nonexistent"))
	if got == nil {
		t.Error("GetByCategory returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("GetByCategory returned %d patterns for unknown category", len(got))
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `version: 1
categories:
  spoofing:
    - name: campus_phish
      pattern: "(?i)student\\s+portal\\s+expired"
      weight: 0.4
      description: Campus phishing campaign
  safe:
    - name: team_checkin
      pattern: "(?i)daily\\s+standup"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}

	r := newRegistry()
	before := r.TotalPatterns()
	spoofBefore := r.CategoryCount(CategorySpoofing)

	added, err := r.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	if got := r.TotalPatterns(); got != before+2 {
		t.Errorf("TotalPatterns = %d, want %d", got, before+2)
	}
	if got := r.CategoryCount(CategorySpoofing); got != spoofBefore+1 {
		t.Errorf("spoofing count = %d, want %d", got, spoofBefore+1)
	}

	if r.MatchAny("your Student Portal Expired yesterday", CategorySpoofing) == nil {
		t.Error("custom spoofing rule did not match")
	}
	if !r.IsSafePhrase("Daily standup") {
		t.Error("custom safe phrase did not full-match")
	}
	if r.IsSafePhrase("daily standup reminder: click here") {
		t.Error("custom safe phrase matched a superstring, want anchored match only")
	}
}

func TestLoadFromFileIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `version: 1
categories:
  exploit:
    - name: vendor_probe
      pattern: "(?i)vendor\\s+diag\\s+probe"
      weight: 0.3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}

	r := newRegistry()
	added, err := r.LoadFromFile(path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if added != 1 {
		t.Fatalf("first load added = %d, want 1", added)
	}
	after := r.TotalPatterns()

	added, err = r.LoadFromFile(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if added != 0 {
		t.Errorf("second load added = %d, want 0", added)
	}
	if got := r.TotalPatterns(); got != after {
		t.Errorf("second load stacked duplicates: %d -> %d patterns", after, got)
	}
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"unknown_category", "version: 1\ncategories:\n  nonsense:\n    - name: x\n      pattern: abc\n"},
		{"bad_regex", "version: 1\ncategories:\n  spoofing:\n    - name: x\n      pattern: \"([unclosed\"\n"},
		{"missing_name", "version: 1\ncategories:\n  spoofing:\n    - pattern: abc\n"},
		{"wrong_version", "version: 2\ncategories: {}\n"},
		{"not_yaml", ":\t::: {{{\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "rules.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("write rules file: %v", err)
			}

			r := newRegistry()
			before := r.TotalPatterns()
			if _, err := r.LoadFromFile(path); err == nil {
				t.Fatal("LoadFromFile accepted invalid file")
			}
			if got := r.TotalPatterns(); got != before {
				t.Errorf("registry mutated on failed load: %d -> %d patterns", before, got)
			}
		})
	}
}

func TestFindRulesFile(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "rules.yaml"), []byte("version: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	sub := filepath.Join(dir, "cmd", "gateway")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Chdir(sub)

	path, ok := FindRulesFile()
	if !ok {
		t.Fatal("FindRulesFile did not find config/rules.yaml in parent")
	}
	if filepath.Base(path) != "rules.yaml" {
		t.Errorf("unexpected path %s", path)
	}
}

func BenchmarkMatchAllAttackCategories(b *testing.B) {
	r := Get()
	msg := "URGENT: your account is suspended, verify your identity at http://bit.ly/x now or send your password"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.MatchAll(msg, AttackCategories()...)
	}
}
