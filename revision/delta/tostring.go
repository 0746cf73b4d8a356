package delta

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gorevision/data/orm"
)

// ToString 将任意值规范化为用于字符差异的字符串。
//
//	nil            -> ""
//	true / false   -> "1" / "0"
//	string         -> 原样
//	数值           -> 最短十进制形式（NaN -> ""）
//	map/切片/文档  -> JSON，丢弃值为 nil 的成员
//	其他           -> "{}"
func ToString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case bool:
		if val {
			return "1"
		}
		return "0"
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case json.Number:
		return val.String()
	}

	if f, ok := toFloat(v); ok {
		return formatNumber(v, f)
	}

	switch category(v) {
	case catNil:
		return ""
	case catMap, catArray:
		b, err := json.Marshal(stripNil(v))
		if err != nil {
			return "{}"
		}
		return string(b)
	}
	return "{}"
}

func formatNumber(v any, f float64) string {
	switch n := v.(type) {
	case int:
		return strconv.FormatInt(int64(n), 10)
	case int8:
		return strconv.FormatInt(int64(n), 10)
	case int16:
		return strconv.FormatInt(int64(n), 10)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case uint:
		return strconv.FormatUint(uint64(n), 10)
	case uint8:
		return strconv.FormatUint(uint64(n), 10)
	case uint16:
		return strconv.FormatUint(uint64(n), 10)
	case uint32:
		return strconv.FormatUint(uint64(n), 10)
	case uint64:
		return strconv.FormatUint(n, 10)
	case float32:
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'f', -1, 32)
		}
	}
	switch {
	case math.IsNaN(f):
		return ""
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// stripNil 递归复制结构并丢弃值为 nil 的 map 成员；数组中的 nil 保留为 null。
func stripNil(v any) any {
	switch category(v) {
	case catMap:
		src := asDocument(v)
		out := orm.NewDocument()
		for _, k := range src.Keys() {
			item, _ := src.Get(k)
			if category(item) == catNil {
				continue
			}
			out.Set(k, stripNil(item))
		}
		return out
	case catArray:
		if _, ok := v.([]byte); ok {
			return v
		}
		items := asSlice(v)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = stripNil(item)
		}
		return out
	}
	return v
}

// LooseEqual 类型宽松的相等判断：数值与数值字符串、布尔与 0/1 视为可比较；nil 只与 nil 相等。
func LooseEqual(a, b any) bool {
	ca, cb := category(a), category(b)
	if ca == catNil || cb == catNil {
		return ca == cb
	}
	if ca == cb {
		switch ca {
		case catMap, catArray, catOther:
			return reflect.DeepEqual(a, b)
		}
		return scalarEqual(ca, a, b)
	}
	fa, okA := looseNumber(a, ca)
	fb, okB := looseNumber(b, cb)
	if !okA || !okB {
		return false
	}
	return fa == fb
}

func looseNumber(v any, cat valueCategory) (float64, bool) {
	switch cat {
	case catBool:
		if v.(bool) {
			return 1, true
		}
		return 0, true
	case catNumber:
		f, ok := toFloat(v)
		return f, ok && !math.IsNaN(f)
	case catString:
		s := strings.TrimSpace(v.(string))
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
