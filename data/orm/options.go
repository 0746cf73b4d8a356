package orm

// Condition 表示基础查询条件，Expr 使用占位符 ?，Args 对应参数列表。
type Condition struct {
	Expr string
	Args []any
}

// OrderBy 表示排序字段。
type OrderBy struct {
	Column string
	Desc   bool
}

// Equal 表示按属性名的等值条件，由适配器映射为列名。
type Equal struct {
	Attribute string
	Value     any
}

// QueryOptions 描述查询的通用选项。
type QueryOptions struct {
	Where     []Condition
	Equals    []Equal
	Joins     []Join
	OrderBy   []OrderBy
	GroupBy   []string
	Limit     int
	Offset    int
	Select    []string
	ForUpdate bool
	// Order 按属性名排序，与 OrderBy（原始列表达式）互补
	Order []OrderBy
}

// QueryOption 用于配置 QueryOptions。
type QueryOption func(*QueryOptions)

// WithWhere 追加查询条件。
func WithWhere(expr string, args ...any) QueryOption {
	return func(opts *QueryOptions) {
		if expr == "" {
			return
		}
		opts.Where = append(opts.Where, Condition{Expr: expr, Args: args})
	}
}

// WithEquals 追加按属性名的等值条件。
func WithEquals(attribute string, value any) QueryOption {
	return func(opts *QueryOptions) {
		if attribute == "" {
			return
		}
		opts.Equals = append(opts.Equals, Equal{Attribute: attribute, Value: value})
	}
}

// Join 表示查询关联。
type Join struct {
	Expr string
	Args []any
}

// WithJoin 追加 JOIN 片段。
func WithJoin(expr string, args ...any) QueryOption {
	return func(opts *QueryOptions) {
		if expr == "" {
			return
		}
		opts.Joins = append(opts.Joins, Join{Expr: expr, Args: args})
	}
}

// WithGroupBy 追加分组字段。
func WithGroupBy(columns ...string) QueryOption {
	return func(opts *QueryOptions) {
		if len(columns) == 0 {
			return
		}
		opts.GroupBy = append(opts.GroupBy, columns...)
	}
}

// WithOrderBy 追加排序。
func WithOrderBy(column string, desc bool) QueryOption {
	return func(opts *QueryOptions) {
		if column == "" {
			return
		}
		opts.OrderBy = append(opts.OrderBy, OrderBy{Column: column, Desc: desc})
	}
}

// WithLimit 设置查询条数上限。
func WithLimit(limit int) QueryOption {
	return func(opts *QueryOptions) {
		if limit > 0 {
			opts.Limit = limit
		}
	}
}

// WithOffset 设置查询偏移。
func WithOffset(offset int) QueryOption {
	return func(opts *QueryOptions) {
		if offset > 0 {
			opts.Offset = offset
		}
	}
}

// WithSelect 指定返回列。
func WithSelect(columns ...string) QueryOption {
	return func(opts *QueryOptions) {
		if len(columns) == 0 {
			return
		}
		opts.Select = append(opts.Select, columns...)
	}
}

// WithForUpdate 标记需要行级锁。
func WithForUpdate() QueryOption {
	return func(opts *QueryOptions) {
		opts.ForUpdate = true
	}
}

// WithOrder 按属性名追加排序，由适配器映射为列名。
func WithOrder(attribute string, desc bool) QueryOption {
	return func(opts *QueryOptions) {
		if attribute == "" {
			return
		}
		opts.Order = append(opts.Order, OrderBy{Column: attribute, Desc: desc})
	}
}

// CollectQueryOptions 聚合 QueryOption，方便适配器读取。
func CollectQueryOptions(options ...QueryOption) QueryOptions {
	var opts QueryOptions
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	return opts
}

// WriteOptions 描述写操作（创建/更新/插入或更新/删除）的选项。
type WriteOptions struct {
	// Session 写入所在的事务会话，为空时使用模型绑定的连接
	Session IOrmSession
	// Fields 本次写入涉及的属性，为空时由适配器推断
	Fields []string
	// Values 写入前合并到记录上的属性值
	Values map[string]any
	// Extra 扩展参数，供装饰器传递每次调用的开关（如修订追踪选项）
	Extra map[string]any
}

// WriteOption 用于配置 WriteOptions。
type WriteOption func(*WriteOptions)

// WithSession 指定写入所在事务。
func WithSession(session IOrmSession) WriteOption {
	return func(opts *WriteOptions) {
		if session != nil {
			opts.Session = session
		}
	}
}

// WithFields 追加本次写入涉及的属性。
func WithFields(fields ...string) WriteOption {
	return func(opts *WriteOptions) {
		for _, f := range fields {
			if f == "" || containsString(opts.Fields, f) {
				continue
			}
			opts.Fields = append(opts.Fields, f)
		}
	}
}

// WithValues 合并写入前需要设置的属性值。
func WithValues(values map[string]any) WriteOption {
	return func(opts *WriteOptions) {
		if len(values) == 0 {
			return
		}
		if opts.Values == nil {
			opts.Values = make(map[string]any, len(values))
		}
		for k, v := range values {
			opts.Values[k] = v
		}
	}
}

// WithOption 设置扩展参数。
func WithOption(key string, value any) WriteOption {
	return func(opts *WriteOptions) {
		if opts.Extra == nil {
			opts.Extra = make(map[string]any)
		}
		opts.Extra[key] = value
	}
}

// Option 读取扩展参数。
func (w WriteOptions) Option(key string) (any, bool) {
	if w.Extra == nil {
		return nil, false
	}
	v, ok := w.Extra[key]
	return v, ok
}

// PayloadFields 返回本次写入的属性集合：显式 Fields 优先，其次为 Values 的键（按模型声明顺序）。
func (w WriteOptions) PayloadFields(meta *ModelMeta) []string {
	if len(w.Fields) > 0 {
		return append([]string(nil), w.Fields...)
	}
	if len(w.Values) == 0 {
		return nil
	}
	fields := make([]string, 0, len(w.Values))
	if meta != nil {
		for _, name := range meta.AttributeNames() {
			if _, ok := w.Values[name]; ok {
				fields = append(fields, name)
			}
		}
	}
	return fields
}

// CollectWriteOptions 聚合 WriteOption。
func CollectWriteOptions(options ...WriteOption) WriteOptions {
	var opts WriteOptions
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	return opts
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
