package api

import (
	"encoding/json"
	"strings"
	"testing"
)

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }

func TestRelayCommentRequest_Decode(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSubject string
		wantParent  string
		wantNonce   uint64
		wantErr     bool
	}{
		{
			name:        "canonical",
			body:        `{"subjectId":"1","parentId":"7","nonce":3}`,
			wantSubject: "1", wantParent: "7", wantNonce: 3,
		},
		{
			name:        "legacy aliases",
			body:        `{"postId":"4","parentCommentId":"9","nonce":"5"}`,
			wantSubject: "4", wantParent: "9", wantNonce: 5,
		},
		{
			name:        "numeric ids",
			body:        `{"subjectId":12,"parentId":null,"nonce":0}`,
			wantSubject: "12", wantParent: "", wantNonce: 0,
		},
		{
			name:        "canonical wins over alias",
			body:        `{"subjectId":"1","postId":"2"}`,
			wantSubject: "1",
		},
		{name: "negative nonce", body: `{"nonce":-1}`, wantErr: true},
		{name: "fractional nonce", body: `{"nonce":1.5}`, wantErr: true},
		{name: "object subject", body: `{"subjectId":{}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body relayCommentRequest
			err := json.Unmarshal([]byte(tt.body), &body)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected decode error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}

			req := body.toDomain()
			if req.SubjectID != tt.wantSubject {
				t.Errorf("Expected subject %q, got %q", tt.wantSubject, req.SubjectID)
			}
			if req.ParentID != tt.wantParent {
				t.Errorf("Expected parent %q, got %q", tt.wantParent, req.ParentID)
			}
			if req.Nonce != tt.wantNonce {
				t.Errorf("Expected nonce %d, got %d", tt.wantNonce, req.Nonce)
			}
		})
	}
}
