package dynamo

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// LiveFilter is the filter expression that excludes soft-deleted items. It
// binds the name #ttl and the value :now.
const LiveFilter = "attribute_not_exists(#ttl) OR #ttl > :now"

// DeletedAt returns the time an item was soft deleted at, read from its ttl
// attribute.
func DeletedAt(item map[string]types.AttributeValue) (time.Time, bool) {
	n, ok := item[attrTTL].(*types.AttributeValueMemberN)
	if !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

// IsDeleted reports whether item's ttl has passed at now.
func IsDeleted(item map[string]types.AttributeValue, now time.Time) bool {
	at, ok := DeletedAt(item)
	return ok && !at.After(now)
}

// withLiveFilter ANDs filter with LiveFilter and adds its bindings.
func withLiveFilter(filter string, names map[string]string, values map[string]types.AttributeValue, now time.Time) (string, map[string]string, map[string]types.AttributeValue) {
	if filter == "" {
		filter = LiveFilter
	} else {
		filter = "(" + filter + ") AND (" + LiveFilter + ")"
	}
	names = merge(names, map[string]string{"#ttl": attrTTL})
	values = merge(values, map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
	})
	return filter, names, values
}

func merge[V any](maps ...map[string]V) map[string]V {
	out := make(map[string]V)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
