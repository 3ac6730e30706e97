// Package stream provides DynamoDB Streams handlers that keep a resolver's
// identity cache consistent with deletes made by other processes.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/canon/source/dynamo"
)

// Evictor drops cached entities by type and primary key.
// *model.Resolver implements it.
type Evictor interface {
	EvictID(typeName string, id any) int
}

// Handler processes DynamoDB stream events for cache eviction.
type Handler struct {
	evictor     Evictor
	idAttribute string
	logger      *slog.Logger
}

// NewHandler creates a new stream handler. Items are expected to be keyed by
// an "id" attribute, as written by the dynamo source's default config.
func NewHandler(e Evictor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		evictor:     e,
		idAttribute: "id",
		logger:      logger,
	}
}

// WithIDAttribute returns h reading entity ids from attr instead of "id".
func (h *Handler) WithIDAttribute(attr string) *Handler {
	h.idAttribute = attr
	return h
}

// HandleEvict evicts the cached entity of every removed or soft-deleted item
// in event. This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleEvict(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		record := &event.Records[i]
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

// processRecord evicts for REMOVE records and for MODIFY records whose TTL
// was newly set. Other records, and items without an entity_ref, are
// skipped.
func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	var image map[string]events.DynamoDBAttributeValue
	switch record.EventName {
	case "REMOVE":
		image = record.Change.OldImage
	case "MODIFY":
		oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
		newTTL := getNumberAttr(record.Change.NewImage, "ttl")
		if oldTTL != 0 || newTTL == 0 {
			return nil
		}
		image = record.Change.NewImage
	default:
		return nil
	}

	ref := getStringAttr(image, "entity_ref")
	typeName, refID, ok := dynamo.ParseEntityRef(ref)
	if !ok {
		h.logger.Debug("skipping record without entity_ref", "eventID", record.EventID)
		return nil
	}

	id, err := h.entityID(record, image, refID)
	if err != nil {
		return fmt.Errorf("decode key of %s: %w", ref, err)
	}
	if h.evictor == nil {
		return nil
	}

	n := h.evictor.EvictID(typeName, id)
	h.logger.Info("evicted entity",
		"type", typeName,
		"id", id,
		"keys", n,
	)
	return nil
}

// entityID decodes the id attribute from the record's keys, then its image,
// the same way the dynamo source decodes records. It falls back to the id
// part of the entity_ref.
func (h *Handler) entityID(record *events.DynamoDBEventRecord, image map[string]events.DynamoDBAttributeValue, refID string) (any, error) {
	for _, src := range []map[string]events.DynamoDBAttributeValue{record.Change.Keys, image} {
		av, ok := ConvertStreamKey(src)[h.idAttribute]
		if !ok {
			continue
		}
		var id any
		if err := attributevalue.Unmarshal(av, &id); err != nil {
			return nil, err
		}
		return id, nil
	}
	return refID, nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// ConvertStreamKey converts the scalar attributes of a stream key or image
// to SDK attribute values.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}
