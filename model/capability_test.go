package model

import "testing"

func TestCapabilitySet_Has(t *testing.T) {
	tests := []struct {
		name string
		set  CapabilitySet
		cap  string
		want bool
	}{
		{"exact", CapabilitySet{CapDefinitionsManage: true}, CapDefinitionsManage, true},
		{"exact miss", CapabilitySet{CapDefinitionsManage: true}, CapCartableExport, false},
		{"star", CapabilitySet{"*": true}, CapCartableExport, true},
		{"namespace", CapabilitySet{"definitions:*": true}, CapDefinitionsManage, true},
		{"other namespace", CapabilitySet{"definitions:*": true}, CapCartableExport, false},
		{"empty", CapabilitySet{}, CapCartableExport, false},
		{"nil", nil, CapCartableExport, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.set.Has(tt.cap); got != tt.want {
				t.Errorf("Has(%q) = %v, want %v", tt.cap, got, tt.want)
			}
		})
	}
}

func TestCapabilitySet_HasAll(t *testing.T) {
	cs := CapabilitySet{CapDefinitionsManage: true, "cartable:*": true}
	if !cs.HasAll(CapDefinitionsManage, CapCartableExport) {
		t.Error("HasAll should be true when all present")
	}
	if cs.HasAll(CapDefinitionsManage, "reports:view") {
		t.Error("HasAll should be false when one missing")
	}
	if !cs.HasAll() {
		t.Error("HasAll with no args should be true")
	}
}

func TestMatchWildcard(t *testing.T) {
	tests := []struct {
		pattern string
		cap     string
		want    bool
	}{
		{"*", "definitions:manage", true},
		{"definitions:*", "definitions:manage", true},
		{"definitions:*", "cartable:export", false},
		{"definitions:manage", "definitions:manage", false}, // exact match is a map lookup
		{"definitions", "definitions:manage", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_vs_"+tt.cap, func(t *testing.T) {
			if got := matchWildcard(tt.pattern, tt.cap); got != tt.want {
				t.Errorf("matchWildcard(%q, %q) = %v, want %v", tt.pattern, tt.cap, got, tt.want)
			}
		})
	}
}
