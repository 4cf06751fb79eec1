package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

func TestObjectKeys(t *testing.T) {
	id := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"original", OriginalKey(id, "photo.JPG"), "originals/7c9e6679-7425-40de-944b-e07fc1f90ae7/photo.JPG"},
		{"original strips dirs", OriginalKey(id, "../../etc/passwd"), "originals/7c9e6679-7425-40de-944b-e07fc1f90ae7/passwd"},
		{"original windows path", OriginalKey(id, `C:\Users\me\cat.png`), "originals/7c9e6679-7425-40de-944b-e07fc1f90ae7/cat.png"},
		{"original empty", OriginalKey(id, ""), "originals/7c9e6679-7425-40de-944b-e07fc1f90ae7/image"},
		{"processed swaps ext", ProcessedKey(id, "photo.gif", ".png"), "processed/7c9e6679-7425-40de-944b-e07fc1f90ae7/photo.png"},
		{"processed no ext", ProcessedKey(id, "scan", ".jpg"), "processed/7c9e6679-7425-40de-944b-e07fc1f90ae7/scan.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("key = %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"missing key", minio.ErrorResponse{Code: "NoSuchKey"}, true},
		{"wrapped", fmt.Errorf("failed to read image: %w", minio.ErrorResponse{Code: "NoSuchKey"}), true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied"}, false},
		{"other", errors.New("connection reset"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}
