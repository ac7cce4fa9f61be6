package syncengine

import (
	"context"
	"encoding/json"
	"net/http"

	"example.com/kinexsync/internal/apiclient"
	"example.com/kinexsync/internal/domain"
)

// Sender is the subset of the request client the engine drives.
type Sender interface {
	Send(ctx context.Context, req apiclient.Request, out any) error
	SendNoContent(ctx context.Context, req apiclient.Request) error
}

// basePath returns the collection route for kind.
func basePath(kind domain.EntityKind) (string, bool) {
	switch kind {
	case domain.EntityWorkout:
		return apiclient.WorkoutsPath, true
	case domain.EntityBodyMetric:
		return apiclient.BodyMetricsPath, true
	case domain.EntityUser:
		return apiclient.UserProfilePath, true
	}
	return "", false
}

// buildRequest maps an item onto its REST call.
func buildRequest(item domain.QueueItem) (apiclient.Request, error) {
	base, ok := basePath(item.EntityKind)
	if !ok {
		return apiclient.Request{}, encodingFailed("unknown entity kind %q", item.EntityKind)
	}

	switch item.Operation {
	case domain.OperationCreate:
		if !json.Valid(item.Payload) {
			return apiclient.Request{}, encodingFailed("payload is not valid JSON")
		}
		return apiclient.NewRequest(http.MethodPost, base, item.Payload), nil
	case domain.OperationUpdate:
		if !json.Valid(item.Payload) {
			return apiclient.Request{}, encodingFailed("payload is not valid JSON")
		}
		return apiclient.NewRequest(http.MethodPut, base+"/"+item.EntityID, item.Payload), nil
	case domain.OperationDelete:
		return apiclient.Delete(base + "/" + item.EntityID), nil
	}
	return apiclient.Request{}, encodingFailed("unknown operation %q", item.Operation)
}

// executeSync sends one item. The response body of create and update is discarded:
// the local store stays the source of truth.
func (e *Engine) executeSync(ctx context.Context, item domain.QueueItem) error {
	req, err := buildRequest(item)
	if err != nil {
		return err
	}
	if item.Operation == domain.OperationDelete {
		return e.sender.SendNoContent(ctx, req)
	}
	return e.sender.Send(ctx, req, nil)
}
