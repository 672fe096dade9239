package services

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"sync"
)

// MockReceiptStorage is an in-memory ReceiptStorage for testing
type MockReceiptStorage struct {
	files map[string][]byte // map of key to file content
	mu    sync.RWMutex
}

// NewMockReceiptStorage creates a new mock receipt storage
func NewMockReceiptStorage() *MockReceiptStorage {
	return &MockReceiptStorage{files: make(map[string][]byte)}
}

// UploadReceipt simulates uploading a receipt
func (m *MockReceiptStorage) UploadReceipt(ctx context.Context, orderID string, fileHeader *multipart.FileHeader) (string, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	key := fmt.Sprintf("receipts/%s/mock_%s", orderID, fileHeader.Filename)

	m.mu.Lock()
	m.files[key] = content
	m.mu.Unlock()

	return key, nil
}

// PresignedURL simulates generating a presigned URL
func (m *MockReceiptStorage) PresignedURL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}

	m.mu.RLock()
	_, exists := m.files[key]
	m.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("file not found in mock storage: %s", key)
	}
	return fmt.Sprintf("https://test-bucket.s3.us-east-1.amazonaws.com/%s?mock=true", key), nil
}

// DeleteReceipt simulates deleting a receipt
func (m *MockReceiptStorage) DeleteReceipt(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.files, key)
	m.mu.Unlock()
	return nil
}

// FileExists checks if a receipt exists in mock storage
func (m *MockReceiptStorage) FileExists(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.files[key]
	return exists
}

// Count returns the number of stored receipts
func (m *MockReceiptStorage) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
