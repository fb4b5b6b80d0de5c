package services

import (
	"log/slog"

	"github.com/mbocsi/wearbridge/proto"
	"github.com/mbocsi/wearbridge/server"
)

// DataServiceImpl implements DataService
type DataServiceImpl struct {
	store *server.DataStore
}

// NewDataService creates a new data service
func NewDataService(store *server.DataStore) DataService {
	return &DataServiceImpl{
		store: store,
	}
}

// ListDataItems returns the items matching authority and path; empty
// values match everything.
func (ds *DataServiceImpl) ListDataItems(authority, path string) ([]DataItemInfo, error) {
	filter := proto.URI{Authority: authority}
	if path != "" {
		if err := proto.ValidatePath(path); err != nil {
			return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid path", Cause: err}
		}
		filter.Path = path
	}

	items := ds.store.List(filter)
	result := make([]DataItemInfo, 0, len(items))
	for _, item := range items {
		info, err := convertDataItem(item)
		if err != nil {
			slog.Warn("Skipping undecodable data item", "uri", item.URI.String(), "error", err)
			continue
		}
		result = append(result, info)
	}
	return result, nil
}

// GetDataItem returns the item at a full wear:// uri
func (ds *DataServiceImpl) GetDataItem(uri string) (*DataItemInfo, error) {
	parsed, err := proto.ParseURI(uri)
	if err != nil {
		return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Invalid data item uri", Cause: err}
	}
	item, err := ds.store.Get(parsed)
	if err != nil {
		return nil, fromProtoError(err, "Data item not found: "+uri)
	}
	info, err := convertDataItem(item)
	if err != nil {
		return nil, fromProtoError(err, "Failed to decode data item")
	}
	return &info, nil
}

// GetAsset returns the bytes stored under digest
func (ds *DataServiceImpl) GetAsset(digest string) ([]byte, error) {
	data, ok := ds.store.Asset(digest)
	if !ok {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Asset not found: " + digest,
		}
	}
	return data, nil
}
