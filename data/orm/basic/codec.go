package basic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gorevision/data/orm"
)

// timeLayouts 读取时间列时尝试的格式（sqlite 以文本保存时间）
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// encodeValue 将属性值转换为驱动可接受的参数。
func encodeValue(f orm.FieldMeta, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case orm.FieldJSON:
		if raw, ok := v.(json.RawMessage); ok {
			return string(raw), nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode json field %s: %w", f.Name, err)
		}
		return string(b), nil
	case orm.FieldString, orm.FieldText, orm.FieldUUID:
		switch val := v.(type) {
		case string:
			return val, nil
		case []byte:
			return string(val), nil
		case uuid.UUID:
			return val.String(), nil
		case fmt.Stringer:
			return val.String(), nil
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return fmt.Sprint(val), nil
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encode text field %s: %w", f.Name, err)
			}
			return string(b), nil
		}
	case orm.FieldTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
		return v, nil
	case orm.FieldInteger, orm.FieldBigInt:
		if s, ok := v.(string); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("encode integer field %s: %w", f.Name, err)
			}
			return n, nil
		}
		return v, nil
	default:
		return v, nil
	}
}

// decodeValue 将驱动返回的值还原为属性值。
func decodeValue(f orm.FieldMeta, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if b, ok := raw.([]byte); ok {
		if f.Type == orm.FieldUUID && len(b) == 16 {
			id, err := uuid.FromBytes(b)
			if err != nil {
				return nil, err
			}
			return id.String(), nil
		}
		raw = string(b)
	}

	switch f.Type {
	case orm.FieldJSON:
		s, ok := raw.(string)
		if !ok {
			return raw, nil
		}
		return decodeJSON(s)
	case orm.FieldInteger, orm.FieldBigInt:
		return toInt64(raw)
	case orm.FieldBoolean:
		switch val := raw.(type) {
		case bool:
			return val, nil
		case int64:
			return val != 0, nil
		case string:
			return strconv.ParseBool(val)
		}
		return raw, nil
	case orm.FieldFloat:
		switch val := raw.(type) {
		case float64:
			return val, nil
		case float32:
			return float64(val), nil
		case int64:
			return float64(val), nil
		case string:
			return strconv.ParseFloat(val, 64)
		}
		return raw, nil
	case orm.FieldTime:
		switch val := raw.(type) {
		case time.Time:
			return val, nil
		case string:
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, val); err == nil {
					return t, nil
				}
			}
			return nil, fmt.Errorf("unrecognized time format %q", val)
		}
		return raw, nil
	case orm.FieldUUID:
		if b, ok := raw.([16]byte); ok {
			return uuid.UUID(b).String(), nil
		}
		return raw, nil
	case orm.FieldString, orm.FieldText:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprint(raw), nil
	default:
		return raw, nil
	}
}

// decodeJSON 对象解析为有序文档，其余 JSON 值解析为通用类型。
func decodeJSON(s string) (any, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		doc := orm.NewDocument()
		if err := json.Unmarshal([]byte(trimmed), doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func toInt64(raw any) (any, error) {
	switch val := raw.(type) {
	case int64:
		return val, nil
	case int32:
		return int64(val), nil
	case int:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case float64:
		return int64(val), nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return raw, nil
	}
}
