package utils

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// ErrorStatus maps a sentinel error to the HTTP status it is reported with.
type ErrorStatus struct {
	Err    error
	Status int
}

// StatusFor returns the status of the first entry err matches with
// errors.Is, or 500.
func StatusFor(err error, table []ErrorStatus) int {
	for _, entry := range table {
		if errors.Is(err, entry.Err) {
			return entry.Status
		}
	}
	return http.StatusInternalServerError
}

// RespondMappedError 按错误类型返回状态码；未识别的错误只返回通用信息并记录日志
func RespondMappedError(w http.ResponseWriter, err error, table []ErrorStatus) {
	status := StatusFor(err, table)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		RespondError(w, status, "internal error")
		return
	}
	RespondError(w, status, err.Error())
}
