// Package delta 计算两个文档快照之间的结构化差异。
//
// 差异记录的形状与 deep-diff 一致：N（新增）、E（修改）、D（删除）、A（数组变化）。
// 顶层键按旧文档顺序遍历，随后是仅存在于新文档的键；嵌套 map 按键名排序遍历；
// 数组长度差异从末尾向前输出为 A 记录，公共部分同样从后向前比较。
package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"gorevision/data/orm"
)

// Kind 差异类型
type Kind string

const (
	KindNew     Kind = "N"
	KindEdited  Kind = "E"
	KindDeleted Kind = "D"
	KindArray   Kind = "A"
)

// Item 数组变化中的元素差异（只会是 N 或 D）
type Item struct {
	Kind Kind
	LHS  any
	RHS  any
}

// Change 单条差异记录
type Change struct {
	Kind  Kind
	Path  []any // 字符串键或整数下标
	LHS   any
	RHS   any
	Index int   // 仅 A
	Item  *Item // 仅 A
}

// Attribute 返回差异所在的顶层属性名。
func (c Change) Attribute() string {
	if len(c.Path) == 0 {
		return ""
	}
	if s, ok := c.Path[0].(string); ok {
		return s
	}
	return fmt.Sprint(c.Path[0])
}

// Sides 返回用于字符差异的左右值；A 记录取元素的左右值。
func (c Change) Sides() (any, any) {
	if c.Kind == KindArray && c.Item != nil {
		return c.Item.LHS, c.Item.RHS
	}
	return c.LHS, c.RHS
}

// MarshalJSON 按类型输出字段：N 只有 rhs，D 只有 lhs，E 两者都有（null 保留），A 输出 index 与 item。
func (c Change) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	if err := writeJSON(&buf, string(c.Kind)); err != nil {
		return nil, err
	}
	if len(c.Path) > 0 {
		buf.WriteString(`,"path":`)
		if err := writeJSON(&buf, c.Path); err != nil {
			return nil, err
		}
	}
	if err := writeSides(&buf, c.Kind, c.LHS, c.RHS); err != nil {
		return nil, err
	}
	if c.Kind == KindArray {
		buf.WriteString(`,"index":`)
		if err := writeJSON(&buf, c.Index); err != nil {
			return nil, err
		}
		if c.Item != nil {
			buf.WriteString(`,"item":`)
			b, err := c.Item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON 输出元素差异。
func (i Item) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	if err := writeJSON(&buf, string(i.Kind)); err != nil {
		return nil, err
	}
	if err := writeSides(&buf, i.Kind, i.LHS, i.RHS); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 读取持久化的差异记录；数值按 float64 还原，下标按 int 还原。
func (c *Change) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind  Kind            `json:"kind"`
		Path  []any           `json:"path"`
		LHS   any             `json:"lhs"`
		RHS   any             `json:"rhs"`
		Index int             `json:"index"`
		Item  json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	path := make([]any, len(raw.Path))
	for i, seg := range raw.Path {
		if f, ok := seg.(float64); ok {
			path[i] = int(f)
			continue
		}
		path[i] = seg
	}
	*c = Change{Kind: raw.Kind, Path: path, LHS: raw.LHS, RHS: raw.RHS, Index: raw.Index}
	if len(raw.Item) > 0 && string(raw.Item) != "null" {
		var item struct {
			Kind Kind `json:"kind"`
			LHS  any  `json:"lhs"`
			RHS  any  `json:"rhs"`
		}
		if err := json.Unmarshal(raw.Item, &item); err != nil {
			return err
		}
		c.Item = &Item{Kind: item.Kind, LHS: item.LHS, RHS: item.RHS}
	}
	return nil
}

func writeSides(buf *bytes.Buffer, kind Kind, lhs, rhs any) error {
	if kind == KindEdited || kind == KindDeleted {
		buf.WriteString(`,"lhs":`)
		if err := writeJSON(buf, lhs); err != nil {
			return err
		}
	}
	if kind == KindEdited || kind == KindNew {
		buf.WriteString(`,"rhs":`)
		if err := writeJSON(buf, rhs); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// Calc 计算 previous 到 next 的差异。
//
// 过滤顺序：strict 为 false 时丢弃左右值宽松相等的 E 记录；随后丢弃路径中任一段命中 exclude 的记录。
// 没有差异时返回 nil。
func Calc(previous, next *orm.Document, exclude []string, strict bool) []Change {
	if previous == nil {
		previous = orm.NewDocument()
	}
	if next == nil {
		next = orm.NewDocument()
	}

	var all []Change
	diffDocument(previous, next, nil, &all)

	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excluded[e] = true
	}

	var out []Change
	for _, c := range all {
		if !strict && c.Kind == KindEdited && LooseEqual(c.LHS, c.RHS) {
			continue
		}
		if pathExcluded(c.Path, excluded) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func pathExcluded(path []any, excluded map[string]bool) bool {
	for _, seg := range path {
		if s, ok := seg.(string); ok && excluded[s] {
			return true
		}
	}
	return false
}

func diffDocument(lhs, rhs *orm.Document, path []any, out *[]Change) {
	for _, k := range lhs.Keys() {
		lv, _ := lhs.Get(k)
		rv, ok := rhs.Get(k)
		if !ok {
			*out = append(*out, Change{Kind: KindDeleted, Path: extend(path, k), LHS: lv})
			continue
		}
		diffValue(lv, rv, extend(path, k), out)
	}
	for _, k := range rhs.Keys() {
		if lhs.Has(k) {
			continue
		}
		rv, _ := rhs.Get(k)
		*out = append(*out, Change{Kind: KindNew, Path: extend(path, k), RHS: rv})
	}
}

func diffValue(lhs, rhs any, path []any, out *[]Change) {
	lk, rk := category(lhs), category(rhs)
	if lk != rk {
		*out = append(*out, Change{Kind: KindEdited, Path: path, LHS: lhs, RHS: rhs})
		return
	}
	switch lk {
	case catNil:
		return
	case catMap:
		diffDocument(asDocument(lhs), asDocument(rhs), path, out)
	case catArray:
		diffArray(asSlice(lhs), asSlice(rhs), path, out)
	default:
		if !scalarEqual(lk, lhs, rhs) {
			*out = append(*out, Change{Kind: KindEdited, Path: path, LHS: lhs, RHS: rhs})
		}
	}
}

func diffArray(lhs, rhs []any, path []any, out *[]Change) {
	i, j := len(lhs)-1, len(rhs)-1
	for i > j {
		*out = append(*out, Change{Kind: KindArray, Path: path, Index: i, Item: &Item{Kind: KindDeleted, LHS: lhs[i]}})
		i--
	}
	for j > i {
		*out = append(*out, Change{Kind: KindArray, Path: path, Index: j, Item: &Item{Kind: KindNew, RHS: rhs[j]}})
		j--
	}
	for ; i >= 0; i-- {
		diffValue(lhs[i], rhs[i], extend(path, i), out)
	}
}

func extend(path []any, seg any) []any {
	p := make([]any, len(path), len(path)+1)
	copy(p, path)
	return append(p, seg)
}

type valueCategory int

const (
	catNil valueCategory = iota
	catBool
	catNumber
	catString
	catTime
	catBytes
	catMap
	catArray
	catOther
)

func category(v any) valueCategory {
	switch v.(type) {
	case nil:
		return catNil
	case bool:
		return catBool
	case string:
		return catString
	case time.Time:
		return catTime
	case []byte:
		return catBytes
	case *orm.Document:
		if v.(*orm.Document) == nil {
			return catNil
		}
		return catMap
	case map[string]any:
		return catMap
	case []any:
		return catArray
	}
	if _, ok := toFloat(v); ok {
		return catNumber
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			return catMap
		}
	case reflect.Slice, reflect.Array:
		return catArray
	case reflect.Ptr:
		if rv.IsNil() {
			return catNil
		}
	}
	return catOther
}

func scalarEqual(cat valueCategory, a, b any) bool {
	switch cat {
	case catNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return fa == fb
	case catTime:
		return a.(time.Time).Equal(b.(time.Time))
	case catBytes:
		return bytes.Equal(a.([]byte), b.([]byte))
	default:
		return reflect.DeepEqual(a, b)
	}
}

// asDocument 将 map 形态的值转换为文档；普通 map 按键名排序。
func asDocument(v any) *orm.Document {
	switch val := v.(type) {
	case *orm.Document:
		return val
	case map[string]any:
		return orm.DocumentFromMap(val)
	}
	rv := reflect.ValueOf(v)
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	doc := orm.NewDocument()
	for _, k := range keys {
		doc.Set(k, rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
	}
	return doc
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
