package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "valid relative path", path: "data/queue.db", wantErr: false},
		{name: "valid absolute path", path: "/var/lib/hostpost/queue.db", wantErr: false},
		{name: "empty path", path: "", wantErr: true},
		{name: "directory traversal", path: "../../../etc/passwd", wantErr: true},
		{name: "embedded traversal", path: "data/../../secrets", wantErr: true},
		{name: "null byte", path: "queue.db\x00.txt", wantErr: true},
		{name: "dot components collapse", path: "./data/./queue.db", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilePathWithBase(t *testing.T) {
	assert.NoError(t, ValidateFilePathWithBase("queue.db", "/var/lib/hostpost"))
	assert.Error(t, ValidateFilePathWithBase("../outside.db", "/var/lib/hostpost"))
	assert.Error(t, ValidateFilePathWithBase("", "/var/lib/hostpost"))
}
