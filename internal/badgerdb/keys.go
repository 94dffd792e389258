package badgerdb

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cwrk-planet/consult-service/internal/domain"
)

// Раскладка ключей:
//
//	msg/<farmer>/<doctor>/<seq %019d>  -> JSON сообщения, порядок ключей = порядок добавления
//	id/<message id>                    -> ключ msg/
//	conv/<farmer>/<doctor>             -> голова переписки (последний seq, последний created_at)
//	doc/<doctor>/<farmer>              -> индекс каталога, пишется вместе с сообщением
//	frm/<farmer>/<doctor>              -> индекс каталога, пишется вместе с сообщением
//
// id участников экранируются (url.PathEscape), '/' внутри id раскладку не ломает.
const (
	prefixMsg    = "msg/"
	prefixID     = "id/"
	prefixHead   = "conv/"
	prefixDoctor = "doc/"
	prefixFarmer = "frm/"
)

func esc(s string) string { return url.PathEscape(s) }

func conversationPrefix(k domain.ConversationKey) []byte {
	return []byte(prefixMsg + esc(k.FarmerID) + "/" + esc(k.DoctorID) + "/")
}

func messageKey(k domain.ConversationKey, seq int64) []byte {
	return append(conversationPrefix(k), fmt.Sprintf("%019d", seq)...)
}

func idKey(id string) []byte {
	return []byte(prefixID + id)
}

func headKey(k domain.ConversationKey) []byte {
	return []byte(prefixHead + esc(k.FarmerID) + "/" + esc(k.DoctorID))
}

func doctorIndexPrefix(doctorID string) []byte {
	return []byte(prefixDoctor + esc(doctorID) + "/")
}

func farmerIndexPrefix(farmerID string) []byte {
	return []byte(prefixFarmer + esc(farmerID) + "/")
}

func doctorIndexKey(k domain.ConversationKey) []byte {
	return append(doctorIndexPrefix(k.DoctorID), esc(k.FarmerID)...)
}

func farmerIndexKey(k domain.ConversationKey) []byte {
	return append(farmerIndexPrefix(k.FarmerID), esc(k.DoctorID)...)
}

func indexSuffix(key, prefix []byte) (string, error) {
	raw := strings.TrimPrefix(string(key), string(prefix))
	return url.PathUnescape(raw)
}
