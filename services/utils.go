package services

import (
	"encoding/json"
	"errors"

	"github.com/mbocsi/wearbridge/proto"
	"github.com/mbocsi/wearbridge/server"
)

// convertNodeMetadata converts server.NodeMetadata to NodeInfo
func convertNodeMetadata(meta *server.NodeMetadata) NodeInfo {
	caps := meta.CapabilityNames()

	meta.Mu.RLock()
	defer meta.Mu.RUnlock()

	transport := ""
	if meta.Transport != nil {
		transport = meta.Transport.Meta().ID
	}
	return NodeInfo{
		ID:           meta.Id,
		Name:         meta.Name,
		Firmware:     meta.Firmware,
		Nearby:       !meta.Relayed,
		Identified:   meta.Identified,
		Capabilities: caps,
		Transport:    transport,
		ConnectedAt:  meta.ConnectedAt,
		LastSeen:     meta.LastSeen,
	}
}

// convertTransportMeta converts transport metadata to TransportInfo
func convertTransportMeta(transport server.Transport) TransportInfo {
	meta := transport.Meta()
	status := "disconnected"
	if meta.Connected {
		status = "connected"
	}

	return TransportInfo{
		ID:          meta.ID,
		Name:        meta.Name,
		Type:        meta.Protocol,
		Address:     meta.Address,
		Status:      status,
		Connections: len(meta.Clients),
		MaxClients:  meta.MaxClients,
	}
}

// convertDataItem decodes a stored item for display
func convertDataItem(item proto.DataItem) (DataItemInfo, error) {
	env, err := item.Envelope()
	if err != nil {
		return DataItemInfo{}, err
	}
	data, err := json.Marshal(env.Map())
	if err != nil {
		return DataItemInfo{}, err
	}
	info := DataItemInfo{
		URI:       item.URI.String(),
		Authority: item.URI.Authority,
		Path:      item.URI.Path,
		Kind:      env.Kind.String(),
		Seq:       item.Seq,
		Data:      data,
	}
	for _, a := range env.Assets() {
		info.Assets = append(info.Assets, a.Digest)
	}
	return info, nil
}

// fromProtoError maps a data-layer error onto a ServiceError
func fromProtoError(err error, message string) error {
	code := ErrCodeInternal
	switch {
	case errors.Is(err, proto.ErrNotFound):
		code = ErrCodeNotFound
	case errors.Is(err, proto.ErrMalformed):
		code = ErrCodeInvalidInput
	case errors.Is(err, proto.ErrNotConnected):
		code = ErrCodeUnavailable
	}
	return ServiceError{Code: code, Message: message, Cause: err}
}
