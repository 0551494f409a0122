package fanout

import "testing"

func TestCheckSingleStatement(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{"single select", "SELECT 1", false},
		{"single with trailing semicolon", "SELECT 1;", false},
		{"two statements", "SELECT 1; SELECT 2;", true},
		{"empty", "", true},
		{"blank", "   ;  ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSingleStatement(tt.sql)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckSingleStatement(%q) error = %v, wantErr %v", tt.sql, err, tt.wantErr)
			}
		})
	}
}
