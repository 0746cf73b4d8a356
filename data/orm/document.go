package orm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Document 保持键插入顺序的属性映射，JSON 序列化按插入顺序输出。
//
// 值可以是标量、nil、嵌套的 map[string]any / *Document、切片。
type Document struct {
	keys   []string
	values map[string]any
}

// NewDocument 创建空文档。
func NewDocument() *Document {
	return &Document{values: make(map[string]any)}
}

// DocumentFromMap 以键的字典序构建文档。
func DocumentFromMap(m map[string]any) *Document {
	d := NewDocument()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Set(k, m[k])
	}
	return d
}

// Set 设置键值，新键追加到末尾。
func (d *Document) Set(key string, value any) *Document {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return d
}

// Get 读取键值。
func (d *Document) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// Has 判断键是否存在（值为 nil 也视为存在）。
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Delete 删除键。
func (d *Document) Delete(key string) {
	if d == nil {
		return
	}
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys 按插入顺序返回键的副本。
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.keys...)
}

// Len 返回键数量。
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Map 返回浅拷贝的普通 map。
func (d *Document) Map() map[string]any {
	m := make(map[string]any, d.Len())
	if d == nil {
		return m
	}
	for _, k := range d.keys {
		m[k] = d.values[k]
	}
	return m
}

// Clone 浅拷贝。
func (d *Document) Clone() *Document {
	c := NewDocument()
	if d == nil {
		return c
	}
	for _, k := range d.keys {
		c.Set(k, d.values[k])
	}
	return c
}

// Pick 按给定键顺序挑选存在的键。
func (d *Document) Pick(keys ...string) *Document {
	c := NewDocument()
	for _, k := range keys {
		if v, ok := d.Get(k); ok {
			c.Set(k, v)
		}
	}
	return c
}

// MarshalJSON 按插入顺序输出 JSON 对象。
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, fmt.Errorf("document: marshal %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 解析 JSON 对象并保留顶层键顺序，嵌套对象解析为 map[string]any。
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("document: expected JSON object")
	}

	d.keys = nil
	d.values = make(map[string]any)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("document: expected object key")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		d.Set(key, value)
	}
	_, err = dec.Token()
	return err
}
