package service

import "testing"

func TestStoragePolicy_CheckSpace(t *testing.T) {
	tests := []struct {
		name  string
		limit float64
		usage float64
		want  bool
	}{
		{"below limit", 90, 50, true},
		{"at limit", 90, 90, false},
		{"above limit", 90, 95, false},
		{"disabled zero", 0, 99, true},
		{"disabled hundred", 100, 99.9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewStoragePolicy(tt.limit).CheckSpace(tt.usage)
			if got.HasSpace != tt.want {
				t.Errorf("HasSpace = %v, want %v", got.HasSpace, tt.want)
			}
			if got.CurrentDiskUsage != tt.usage {
				t.Errorf("CurrentDiskUsage = %v, want %v", got.CurrentDiskUsage, tt.usage)
			}
		})
	}
}
