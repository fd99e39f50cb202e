package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/firestore/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// FirestoreService writes user documents to a Firestore database through the
// REST surface. Collection paths are relative, e.g. "users/u1/events".
type FirestoreService struct {
	service *firestore.Service
	parent  string
	limiter *rate.Limiter
}

func NewFirestoreService(ctx context.Context, credentialsFile, projectID string) (*FirestoreService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, firestore.DatastoreScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	client := config.Client(ctx)

	srv, err := firestore.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Firestore service: %v", err)
	}

	return &FirestoreService{
		service: srv,
		parent:  fmt.Sprintf("projects/%s/databases/(default)/documents", projectID),
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}, nil
}

// Put creates or replaces the document. With merge set, only the fields
// present in the payload are written and the rest of the remote document is
// left alone.
func (s *FirestoreService) Put(ctx context.Context, collectionPath, id string, payload map[string]any, merge bool) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	doc := &firestore.Document{Fields: encodeFields(payload)}
	call := s.service.Projects.Databases.Documents.Patch(s.documentName(collectionPath, id), doc).Context(ctx)
	if merge {
		paths := make([]string, 0, len(payload))
		for k := range payload {
			paths = append(paths, k)
		}
		call = call.UpdateMaskFieldPaths(paths...)
	}

	if _, err := call.Do(); err != nil {
		return fmt.Errorf("put document %s/%s: %v", collectionPath, id, err)
	}
	return nil
}

// Delete removes the document. A missing document is not an error, the
// replayed queue may carry deletes for records that never made it remote.
func (s *FirestoreService) Delete(ctx context.Context, collectionPath, id string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := s.service.Projects.Databases.Documents.Delete(s.documentName(collectionPath, id)).Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return nil
		}
		return fmt.Errorf("delete document %s/%s: %v", collectionPath, id, err)
	}
	return nil
}

func (s *FirestoreService) documentName(collectionPath, id string) string {
	return s.parent + "/" + collectionPath + "/" + id
}

func encodeFields(payload map[string]any) map[string]firestore.Value {
	fields := make(map[string]firestore.Value, len(payload))
	for k, v := range payload {
		fields[k] = *encodeValue(v)
	}
	return fields
}

func encodeValue(v any) *firestore.Value {
	switch val := v.(type) {
	case nil:
		return &firestore.Value{NullValue: "NULL_VALUE", ForceSendFields: []string{"NullValue"}}
	case string:
		return &firestore.Value{StringValue: val, ForceSendFields: []string{"StringValue"}}
	case bool:
		return &firestore.Value{BooleanValue: val, ForceSendFields: []string{"BooleanValue"}}
	case int:
		return &firestore.Value{IntegerValue: int64(val), ForceSendFields: []string{"IntegerValue"}}
	case int64:
		return &firestore.Value{IntegerValue: val, ForceSendFields: []string{"IntegerValue"}}
	case float64:
		// JSON round-trips numbers as float64; keep whole values integral.
		if val == float64(int64(val)) {
			return &firestore.Value{IntegerValue: int64(val), ForceSendFields: []string{"IntegerValue"}}
		}
		return &firestore.Value{DoubleValue: val, ForceSendFields: []string{"DoubleValue"}}
	case time.Time:
		return &firestore.Value{TimestampValue: val.UTC().Format(time.RFC3339Nano)}
	case map[string]any:
		return &firestore.Value{MapValue: &firestore.MapValue{Fields: encodeFields(val)}}
	case []any:
		values := make([]*firestore.Value, len(val))
		for i, item := range val {
			values[i] = encodeValue(item)
		}
		return &firestore.Value{ArrayValue: &firestore.ArrayValue{Values: values}}
	default:
		return &firestore.Value{StringValue: fmt.Sprintf("%v", val), ForceSendFields: []string{"StringValue"}}
	}
}
