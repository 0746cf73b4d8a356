package orm

import (
	"sort"
	"strings"
)

// Capability 适配器可选支持的能力标识
type Capability string

const (
	CapabilityBasicCRUD       Capability = "basic_crud"
	CapabilityQuery           Capability = "query"
	CapabilityAssociationRead Capability = "association_read"
	CapabilityUpsert          Capability = "upsert"
	CapabilityTransaction     Capability = "transaction"
	CapabilityMigration       Capability = "migration"
)

// Capabilities 适配器支持的能力集合
type Capabilities map[Capability]bool

// Supports 判断是否支持指定能力
func (c Capabilities) Supports(cap Capability) bool {
	return c != nil && c[cap]
}

// Missing 返回 required 中未支持的能力，按名称排序
func (c Capabilities) Missing(required ...Capability) []Capability {
	var out []Capability
	for _, cap := range required {
		if !c.Supports(cap) {
			out = append(out, cap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String 逗号分隔的能力列表
func (c Capabilities) String() string {
	names := make([]string, 0, len(c))
	for cap, ok := range c {
		if ok {
			names = append(names, string(cap))
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// NewCapabilities 构造能力集合
func NewCapabilities(caps ...Capability) Capabilities {
	set := make(Capabilities, len(caps))
	for _, cap := range caps {
		set[cap] = true
	}
	return set
}
