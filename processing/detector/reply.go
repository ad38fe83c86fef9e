package detector

import (
	"linecount/internal/models"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrMalformedReply = errors.New("malformed detector reply")

// decodeReply reads a JSON text reply or a msgpack binary reply. JSON entries
// without a track id are dropped since they cannot be followed across frames.
func decodeReply(msgType int, data []byte) (models.TrackReply, error) {
	switch msgType {
	case websocket.BinaryMessage:
		var reply models.TrackReply
		if err := msgpack.Unmarshal(data, &reply); err != nil {
			return models.TrackReply{}, errors.Wrapf(ErrMalformedReply, "msgpack: %v", err)
		}
		return reply, nil

	case websocket.TextMessage:
		return decodeJSONReply(data)

	default:
		return models.TrackReply{}, errors.Wrapf(ErrMalformedReply, "message type %d", msgType)
	}
}

func decodeJSONReply(data []byte) (models.TrackReply, error) {
	if !gjson.ValidBytes(data) {
		return models.TrackReply{}, errors.Wrap(ErrMalformedReply, "invalid json")
	}

	root := gjson.ParseBytes(data)
	reply := models.TrackReply{Frame: root.Get("frame").Uint()}

	root.Get("tracks").ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id")
		if !id.Exists() {
			return true
		}

		res := models.DetectionResult{
			ID:         id.Int(),
			Label:      item.Get("label").String(),
			Confidence: float32(item.Get("confidence").Float()),
		}
		item.Get("box").ForEach(func(_, v gjson.Result) bool {
			res.Box = append(res.Box, float32(v.Float()))
			return true
		})

		reply.Tracks = append(reply.Tracks, res)
		return true
	})

	return reply, nil
}
