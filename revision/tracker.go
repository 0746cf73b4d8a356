// Package revision 为 data/orm 模型提供修订追踪：拦截写操作，计算差异并在同一事务内写入修订记录。
package revision

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"gorevision/data/orm"
	"gorevision/logging"
	"gorevision/revision/ambient"
)

// Tracker 修订追踪器
type Tracker struct {
	orm     orm.IOrm
	opts    Options
	names   attributeNames
	log     logging.Logger
	ambient ambient.Store

	failHard atomic.Bool

	mu            sync.Mutex
	revisionModel orm.IModel
	changeModel   orm.IModel
}

// NewTracker 解析配置并创建追踪器，配置无效时返回 ConfigurationError
func NewTracker(o orm.IOrm, opts Options) (*Tracker, error) {
	if o == nil {
		return nil, configurationError("修订追踪需要 orm 实例")
	}
	resolved, err := resolveOptions(opts, o.Dialect())
	if err != nil {
		return nil, err
	}
	if missing := o.Capabilities().Missing(requiredCapabilities(resolved)...); len(missing) > 0 {
		return nil, configurationError("orm 适配器缺少修订追踪所需能力: %v", missing)
	}

	t := &Tracker{
		orm:     o,
		opts:    resolved,
		names:   resolveNames(resolved),
		log:     resolved.Logger,
		ambient: resolved.Ambient,
	}
	if t.ambient == nil && resolved.ContinuationNamespace != "" {
		t.ambient = ambient.CreateNamespace(resolved.ContinuationNamespace)
	}
	return t, nil
}

// requiredCapabilities 修订写入依赖事务与查询；自动补列依赖迁移能力
func requiredCapabilities(opts Options) []orm.Capability {
	caps := []orm.Capability{orm.CapabilityBasicCRUD, orm.CapabilityQuery, orm.CapabilityTransaction}
	if opts.EnableMigration {
		caps = append(caps, orm.CapabilityMigration)
	}
	return caps
}

// Options 返回解析后的配置
func (t *Tracker) Options() Options { return t.opts }

// Orm 返回追踪器绑定的 orm
func (t *Tracker) Orm() orm.IOrm { return t.orm }

// EnableFailHard 开启严格模式：缺少操作者或修订计数时写入失败
func (t *Tracker) EnableFailHard() { t.failHard.Store(true) }

// TrackOption 单个模型的追踪选项
type TrackOption func(*trackConfig)

type trackConfig struct {
	exclude []string
}

// WithExclude 在全局排除列表之外追加该模型的排除属性
func WithExclude(attrs ...string) TrackOption {
	return func(c *trackConfig) {
		c.exclude = append(c.exclude, attrs...)
	}
}

// TrackRevision 为模型注入修订计数属性并返回带修订拦截的模型句柄
//
// 重复调用是安全的：属性与关联按名称去重，迁移检查只在列缺失时加列。
func (t *Tracker) TrackRevision(ctx context.Context, model orm.IModel, opts ...TrackOption) (*TrackedModel, error) {
	if tm, ok := model.(*TrackedModel); ok {
		model = tm.IModel
	}
	if model == nil || model.Meta() == nil {
		return nil, configurationError("追踪的模型不能为空")
	}
	if _, _, err := t.DefineModels(ctx); err != nil {
		return nil, err
	}

	meta := model.Meta()
	if len(meta.PrimaryKeys()) == 0 {
		return nil, configurationError("模型 %s 没有主键，无法追踪修订", meta.Name)
	}

	cfg := &trackConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	revAttr := t.opts.RevisionAttribute
	meta.AddField(orm.FieldMeta{
		Name:     revAttr,
		Column:   t.column(revAttr),
		Type:     orm.FieldInteger,
		Nullable: true,
	})
	meta.AddAssociation(orm.AssociationMeta{
		Name:       pluralize(t.opts.RevisionModel),
		Kind:       orm.AssociationHasMany,
		Target:     t.opts.RevisionModel,
		ForeignKey: t.names.DocumentID,
		Scope:      map[string]any{t.names.Model: meta.Name},
	})

	if t.opts.EnableMigration {
		t.migrate(ctx, meta)
	}

	exclude := make(map[string]bool, len(t.opts.Exclude)+len(cfg.exclude))
	for _, name := range t.opts.Exclude {
		exclude[name] = true
	}
	for _, name := range cfg.exclude {
		exclude[name] = true
	}

	t.log.Debug(ctx, "model tracked",
		logging.String("model", meta.Name),
		logging.Int("exclude", len(exclude)))
	return &TrackedModel{IModel: model, tracker: t, exclude: exclude}, nil
}

// migrate 修订列缺失时补充，失败只记录日志
func (t *Tracker) migrate(ctx context.Context, meta *orm.ModelMeta) {
	field, ok := meta.Field(t.opts.RevisionAttribute)
	if !ok {
		return
	}
	mg := t.orm.Migrator()
	cols, err := mg.DescribeTable(ctx, meta.TableName())
	if err != nil {
		t.log.Warn(ctx, "describe table failed",
			logging.String("table", meta.TableName()), logging.Error(err))
		return
	}
	if _, exists := cols[field.ColumnName()]; exists {
		return
	}
	if err := mg.AddColumn(ctx, meta.TableName(), field); err != nil {
		t.log.Warn(ctx, "add revision column failed",
			logging.String("table", meta.TableName()), logging.Error(err))
		return
	}
	t.log.Info(ctx, "revision column added",
		logging.String("table", meta.TableName()),
		logging.String("column", field.ColumnName()))
}

// TrackedModel 带修订拦截的模型句柄，读操作直接委托给原模型
type TrackedModel struct {
	orm.IModel
	tracker *Tracker
	exclude map[string]bool
}

func (m *TrackedModel) excludeList() []string {
	out := make([]string, 0, len(m.exclude))
	for name := range m.exclude {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Tracker 返回所属追踪器
func (m *TrackedModel) Tracker() *Tracker { return m.tracker }

// WithSession 返回绑定事务会话且保留修订拦截的句柄
func (m *TrackedModel) WithSession(s orm.IOrmSession) orm.IModel {
	return &TrackedModel{IModel: m.IModel.WithSession(s), tracker: m.tracker, exclude: m.exclude}
}

func (m *TrackedModel) Create(ctx context.Context, rec *orm.Record, opts ...orm.WriteOption) error {
	return m.tracker.track(ctx, m, OperationCreate, rec, opts)
}

func (m *TrackedModel) Update(ctx context.Context, rec *orm.Record, opts ...orm.WriteOption) error {
	return m.tracker.track(ctx, m, OperationUpdate, rec, opts)
}

func (m *TrackedModel) Upsert(ctx context.Context, rec *orm.Record, opts ...orm.WriteOption) error {
	return m.tracker.track(ctx, m, OperationUpsert, rec, opts)
}

func (m *TrackedModel) Destroy(ctx context.Context, rec *orm.Record, opts ...orm.WriteOption) error {
	return m.tracker.track(ctx, m, OperationDestroy, rec, opts)
}

// Revisions 按修订号升序读取记录的修订历史
func (m *TrackedModel) Revisions(ctx context.Context, rec *orm.Record) ([]*Revision, error) {
	rows, err := m.IModel.Related(ctx, rec, pluralize(m.tracker.opts.RevisionModel),
		orm.WithOrder(m.tracker.names.Revision, false))
	if err != nil {
		return nil, err
	}
	out := make([]*Revision, len(rows))
	for i, row := range rows {
		out[i] = m.tracker.toRevision(row)
	}
	return out, nil
}

const (
	optionNoRevision = "revision.noRevision"
	optionUserID     = "revision.userId"
	optionMetaData   = "revision.metaData"

	slotDelta    = "revision.delta"
	slotRevision = "revision.result"
)

// NoRevision 本次写入不生成修订
func NoRevision() orm.WriteOption { return orm.WithOption(optionNoRevision, true) }

// WithUserID 指定本次写入的操作者（上下文中存在操作者时以上下文为准）
func WithUserID(id any) orm.WriteOption { return orm.WithOption(optionUserID, id) }

// WithRevisionMetaData 指定本次写入的修订元数据
func WithRevisionMetaData(md map[string]any) orm.WriteOption {
	return orm.WithOption(optionMetaData, md)
}

// RevisionOf 返回记录最近一次受追踪写入产生的修订，未产生时为 nil
func RevisionOf(rec *orm.Record) *Revision {
	if rec == nil {
		return nil
	}
	r, _ := rec.Context()[slotRevision].(*Revision)
	return r
}
