package grpcserver

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"pizzaRun/internal/lifecycle"
	"pizzaRun/models"
)

const cursorSeparator = "|"

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// orderToMap converts an order into Struct-compatible values. Money is
// sent as fixed two-decimal strings.
func orderToMap(o *models.Order) map[string]any {
	items := make([]any, len(o.Items))
	for i, it := range o.Items {
		items[i] = it
	}
	m := map[string]any{
		"id":          o.ID,
		"status":      string(o.Status),
		"is_vip":      o.IsVIP,
		"date_placed": formatTime(o.DatePlaced),
		"address": map[string]any{
			"street":       o.Address.Street,
			"town":         o.Address.Town,
			"number":       o.Address.Number,
			"full_address": o.Address.FullAddress,
		},
		"items":      items,
		"total_cost": o.TotalCost.StringFixed(2),
		"tip":        o.Tip.StringFixed(2),
	}
	if o.DateDelivered != nil {
		m["date_delivered"] = formatTime(*o.DateDelivered)
	}
	if o.UserID != nil {
		m["user_id"] = *o.UserID
	}
	if o.HasCoordinates() {
		m["latitude"] = *o.Latitude
		m["longitude"] = *o.Longitude
	}
	return m
}

func ordersToList(list []models.Order) []any {
	out := make([]any, 0, len(list))
	for i := range list {
		out = append(out, orderToMap(&list[i]))
	}
	return out
}

func stringsToList(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func statsToMap(s *models.LifetimeStats) map[string]any {
	return map[string]any{
		"total_deliveries":  s.TotalDeliveries,
		"total_distance_km": s.TotalDistanceKm,
		"unique_streets":    stringsToList(s.UniqueStreets),
		"total_tips":        s.TotalTips.StringFixed(2),
	}
}

func achievementToMap(a *models.Achievement) map[string]any {
	return map[string]any{
		"id":          a.ID,
		"title":       a.Title,
		"description": a.Description,
		"icon":        a.Icon,
		"unlocked_at": formatTime(a.UnlockedAt),
	}
}

func sessionToMap(s *models.Session) map[string]any {
	m := map[string]any{
		"id":            s.ID,
		"status":        string(s.Status),
		"started_at":    formatTime(s.StartedAt),
		"last_activity": formatTime(s.LastActivity),
	}
	if s.EndedAt != nil {
		m["ended_at"] = formatTime(*s.EndedAt)
	}
	return m
}

func transitionsToList(ts []lifecycle.Transition) []any {
	out := make([]any, 0, len(ts))
	for _, t := range ts {
		out = append(out, map[string]any{
			"order_id": t.OrderID,
			"from":     string(t.From),
			"to":       string(t.To),
		})
	}
	return out
}

// stringField returns in[key] if it is a string.
func stringField(in *structpb.Struct, key string) string {
	if v, ok := in.GetFields()[key]; ok {
		return strings.TrimSpace(v.GetStringValue())
	}
	return ""
}

func numberField(in *structpb.Struct, key string) (float64, bool) {
	v, ok := in.GetFields()[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}

func boolField(in *structpb.Struct, key string) (bool, bool) {
	v, ok := in.GetFields()[key]
	if !ok {
		return false, false
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false
	}
	return b.BoolValue, true
}

func stringListField(in *structpb.Struct, key string) []string {
	v, ok := in.GetFields()[key]
	if !ok {
		return nil
	}
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		if s := strings.TrimSpace(item.GetStringValue()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// encodeCursor builds an opaque next_page_token from the keyset cursor.
func encodeCursor(placed, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(placed + cursorSeparator + id))
}

// decodeCursor parses an opaque page_token into its keyset cursor.
func decodeCursor(token string) (placed, id string, err error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("base64: %w", err)
	}
	parts := strings.SplitN(string(b), cursorSeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor format")
	}
	return parts[0], parts[1], nil
}

func parseStatuses(raw []string) ([]models.OrderStatus, error) {
	var out []models.OrderStatus
	for _, s := range raw {
		st := models.OrderStatus(strings.ToLower(s))
		if !st.Valid() {
			return nil, fmt.Errorf("unknown status %q", s)
		}
		out = append(out, st)
	}
	return out, nil
}

