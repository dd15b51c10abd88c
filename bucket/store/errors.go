package store

import (
	"fmt"
	"time"

	"github.com/AustralianCyberSecurityCentre/azul-dedup.git/prom"
)

type NotFoundError struct{}

func (e *NotFoundError) Error() string {
	return "not found"
}

type AccessError struct {
	msg string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("no access: %v", e.msg)
}

type ReadError struct {
	msg string
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read error: %v", e.msg)
}

type WriteError struct {
	msg string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write error: %v", e.msg)
}

// reportStoreOpMetric report a backend method duration for prometheus
func reportStoreOpMetric(backend string, startTime int64, operationName string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	durationSeconds := float64(time.Now().UnixNano()-startTime) / 1e9
	prom.StoreOperationDuration.WithLabelValues(backend, operationName, result).Observe(durationSeconds)
}
