// Package queue runs normalization in the background over asynq.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/address-normalizer/app/models"
)

const (
	TaskNormalizeBatch = "address.normalize_batch"
	TaskWarmCache      = "address.warm_cache"
)

type NormalizeBatchPayload struct {
	BatchID string              `json:"batchId"`
	Records []models.RawAddress `json:"records"`
}

type WarmCachePayload struct {
	Limit int `json:"limit"`
}

func NewNormalizeBatchTask(payload NormalizeBatchPayload) (*asynq.Task, error) {
	if len(payload.Records) == 0 {
		return nil, fmt.Errorf("batch %s has no records", payload.BatchID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNormalizeBatch, data), nil
}

func ParseNormalizeBatchPayload(task *asynq.Task) (NormalizeBatchPayload, error) {
	var payload NormalizeBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NormalizeBatchPayload{}, err
	}
	return payload, nil
}

func NewWarmCacheTask(payload WarmCachePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWarmCache, data), nil
}

func ParseWarmCachePayload(task *asynq.Task) (WarmCachePayload, error) {
	var payload WarmCachePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return WarmCachePayload{}, err
	}
	return payload, nil
}
