package alert

import "testing"

func TestBuildSinks(t *testing.T) {
	tests := []struct {
		name    string
		sinks   []string
		want    []string
		wantErr bool
	}{
		{
			name:  "default log sink",
			sinks: []string{"log"},
			want:  []string{"log"},
		},
		{
			name:  "all sink kinds",
			sinks: []string{"log", "redis", "kafka", "postgres", "webhook"},
			want:  []string{"log", "redis", "kafka", "postgres", "webhook"},
		},
		{
			name:  "pg alias maps to postgres",
			sinks: []string{"pg"},
			want:  []string{"postgres"},
		},
		{
			name:  "case insensitive with duplicates",
			sinks: []string{"Log", "LOG", " log "},
			want:  []string{"log"},
		},
		{
			name:  "blank entries skipped",
			sinks: []string{"", "  ", "log"},
			want:  []string{"log"},
		},
		{
			name:  "empty list",
			sinks: nil,
			want:  nil,
		},
		{
			name:    "unknown sink",
			sinks:   []string{"log", "carrier-pigeon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildSinks(tt.sinks)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("BuildSinks(%v) succeeded, want error", tt.sinks)
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildSinks(%v) failed: %v", tt.sinks, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("BuildSinks(%v) returned %d sinks, want %d", tt.sinks, len(got), len(tt.want))
			}
			for i, s := range got {
				if s.Name() != tt.want[i] {
					t.Errorf("sink[%d].Name() = %q, want %q", i, s.Name(), tt.want[i])
				}
			}
		})
	}
}
