package revision

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"gorevision/data/orm"
	"gorevision/logging"
	"gorevision/messaging"
	"gorevision/outbox"
	"gorevision/revision/chardiff"
	"gorevision/revision/delta"
)

// EventRevisionCreated 修订写入后追加到 outbox 的通知类型
const EventRevisionCreated = "revision.created"

// Notification revision.created 通知负载
type Notification struct {
	RevisionID any       `json:"revision_id"`
	Model      string    `json:"model"`
	DocumentID string    `json:"document_id"`
	Revision   int64     `json:"revision"`
	Operation  Operation `json:"operation"`
	UserID     any       `json:"user_id,omitempty"`
}

// DecodeNotification 从 outbox 转发的消息中还原通知负载
func DecodeNotification(message messaging.IMessage) (Notification, error) {
	var n Notification
	if message.GetType() != EventRevisionCreated {
		return n, fmt.Errorf("revision: unexpected message type %q", message.GetType())
	}
	if err := messaging.DecodePayload(message, &n); err != nil {
		return n, fmt.Errorf("revision: decode notification: %w", err)
	}
	return n, nil
}

// mutation 单次受追踪写入的上下文
type mutation struct {
	model   *TrackedModel
	op      Operation
	rec     *orm.Record
	opts    orm.WriteOptions
	session orm.IOrmSession
	payload []string
	// explicit 调用方显式给出了写入属性
	explicit bool
}

func (mu *mutation) metaData() map[string]any {
	v, _ := mu.opts.Option(optionMetaData)
	md, _ := v.(map[string]any)
	return md
}

// track 执行 BEFORE → 原始写入 → AFTER，未传入会话时自行开启事务
func (t *Tracker) track(ctx context.Context, m *TrackedModel, op Operation, rec *orm.Record, opts []orm.WriteOption) (err error) {
	if rec == nil {
		return fmt.Errorf("revision: %s %s: record is nil", op, m.Meta().Name)
	}
	meta := m.Meta()
	w := orm.CollectWriteOptions(opts...)
	slot := rec.Context()
	delete(slot, slotDelta)
	delete(slot, slotRevision)

	if skip, _ := w.Option(optionNoRevision); skip == true {
		recordSkipped(ctx, meta.Name, op, "disabled")
		rec.SetValues(w.Values)
		return t.write(ctx, m, op, rec, w, w.Session, w.Fields)
	}

	ctx, span := startTrackSpan(ctx, meta.Name, op)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// 事务回滚后恢复快照、新建标记与计数，记录可原样重试；须在提交之后执行
	persisted, wasNew := rec.PreviousDocument(), rec.IsNewRecord()
	prevCounter, hadCounter := rec.Previous(t.opts.RevisionAttribute)
	var significant bool
	defer func() {
		if err == nil {
			return
		}
		rec.RestorePersisted(persisted, wasNew)
		if !significant {
			return
		}
		if hadCounter {
			rec.Set(t.opts.RevisionAttribute, prevCounter)
		} else {
			rec.Unset(t.opts.RevisionAttribute)
		}
	}()

	sess := w.Session
	if sess == nil {
		sess = m.Session()
	}
	if sess == nil {
		if sess, err = t.orm.Begin(ctx); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				if rbErr := sess.Rollback(); rbErr != nil {
					t.log.Warn(ctx, "rollback failed", logging.String("model", meta.Name), logging.Error(rbErr))
				}
				delete(slot, slotRevision)
				return
			}
			if err = sess.Commit(); err != nil {
				delete(slot, slotRevision)
			}
		}()
	}

	rec.SetValues(w.Values)
	mu := &mutation{model: m, op: op, rec: rec, opts: w, session: sess}
	mu.payload = w.PayloadFields(meta)
	mu.explicit = len(mu.payload) > 0
	if !mu.explicit {
		if op == OperationUpdate {
			mu.payload = rec.Changed()
		} else {
			mu.payload = rec.Document().Keys()
		}
	}

	var changes []delta.Change
	changes, significant, err = t.before(ctx, mu)
	if err != nil {
		return err
	}

	var fields []string
	if op == OperationUpdate && mu.explicit && significant {
		fields = append(append(fields, mu.payload...), t.opts.RevisionAttribute)
	} else if mu.explicit {
		fields = mu.payload
	}
	if err = t.write(ctx, m, op, rec, w, sess, fields); err != nil {
		return err
	}

	if !significant {
		recordSkipped(ctx, meta.Name, op, "unchanged")
		return nil
	}
	return t.after(ctx, mu, changes)
}

// write 调用原模型的写操作；值已合并到记录上，不再重复传入
func (t *Tracker) write(ctx context.Context, m *TrackedModel, op Operation, rec *orm.Record, w orm.WriteOptions, sess orm.IOrmSession, fields []string) error {
	opts := make([]orm.WriteOption, 0, len(w.Extra)+2)
	opts = append(opts, orm.WithSession(sess))
	if len(fields) > 0 {
		opts = append(opts, orm.WithFields(fields...))
	}
	for k, v := range w.Extra {
		opts = append(opts, orm.WithOption(k, v))
	}

	switch op {
	case OperationCreate:
		return m.IModel.Create(ctx, rec, opts...)
	case OperationUpdate:
		return m.IModel.Update(ctx, rec, opts...)
	case OperationUpsert:
		return m.IModel.Upsert(ctx, rec, opts...)
	case OperationDestroy:
		return m.IModel.Destroy(ctx, rec, opts...)
	default:
		return fmt.Errorf("revision: unsupported operation %s", op)
	}
}

// snapshot 取声明属性，去掉排除属性与未设置的属性；restrict 不为空时只保留其中的属性
func (t *Tracker) snapshot(mu *mutation, values *orm.Document) *orm.Document {
	var restrict map[string]bool
	if t.opts.EnableCompression && mu.op != OperationDestroy {
		restrict = make(map[string]bool, len(mu.payload))
		for _, name := range mu.payload {
			restrict[name] = true
		}
	}
	out := orm.NewDocument()
	for _, name := range mu.model.Meta().AttributeNames() {
		if mu.model.exclude[name] {
			continue
		}
		if restrict != nil && !restrict[name] {
			continue
		}
		if v, ok := values.Get(name); ok {
			out.Set(name, v)
		}
	}
	return out
}

// before 计算差异并决定是否生成修订；生成时在记录上写入新的修订号
func (t *Tracker) before(ctx context.Context, mu *mutation) ([]delta.Change, bool, error) {
	rec := mu.rec
	name := mu.model.Meta().Name
	revAttr := t.opts.RevisionAttribute

	previous := orm.NewDocument()
	if mu.op != OperationUpsert {
		previous = t.snapshot(mu, rec.PreviousDocument())
	}
	current := t.snapshot(mu, rec.Document())

	if v, ok := rec.Previous(revAttr); ok {
		rec.Set(revAttr, v)
	} else {
		rec.Unset(revAttr)
	}

	changes := delta.Calc(previous, current, mu.model.excludeList(), t.opts.StrictDiff())
	t.log.Debug(ctx, "revision delta",
		logging.String("model", name),
		logging.String("operation", string(mu.op)),
		logging.Int("changes", len(changes)))

	counter := toInt64(rec.Get(revAttr))
	if t.failHard.Load() && mu.op == OperationUpdate && counter == 0 {
		return nil, false, revisionStateError(name)
	}

	if err := t.checkMetaData(ctx, mu); err != nil {
		return nil, false, err
	}

	if mu.op != OperationDestroy && len(changes) == 0 {
		delete(rec.Context(), slotDelta)
		return nil, false, nil
	}

	rec.Set(revAttr, counter+1)
	rec.Context()[slotDelta] = changes
	return changes, true, nil
}

// checkMetaData 必填元数据须能从调用选项或上下文中取到
func (t *Tracker) checkMetaData(ctx context.Context, mu *mutation) error {
	if len(t.opts.MetaDataFields) == 0 {
		return nil
	}
	md := t.resolveMetaData(ctx, mu)
	for _, field := range t.metaDataNames() {
		if !t.opts.MetaDataFields[field] {
			continue
		}
		if v, ok := md[field]; !ok || v == nil {
			return missingMetadataError(mu.model.Meta().Name, field)
		}
	}
	return nil
}

// resolveMetaData 合并上下文与调用选项中的元数据，上下文中已有的键优先
func (t *Tracker) resolveMetaData(ctx context.Context, mu *mutation) map[string]any {
	out := make(map[string]any)
	if t.ambient != nil {
		if v, ok := t.ambient.Get(ctx, t.opts.MetaDataContinuationKey); ok {
			if md, ok := v.(map[string]any); ok {
				for k, val := range md {
					out[k] = val
				}
			}
		}
	}
	for k, v := range mu.metaData() {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}

// actor 上下文中的操作者优先，其次为调用选项
func (t *Tracker) actor(ctx context.Context, mu *mutation) (any, bool) {
	if t.ambient != nil {
		if v, ok := t.ambient.Get(ctx, t.opts.ContinuationKey); ok && v != nil {
			return v, true
		}
	}
	if v, ok := mu.opts.Option(optionUserID); ok && v != nil {
		return v, true
	}
	return nil, false
}

// after 写入修订及字段级变更
func (t *Tracker) after(ctx context.Context, mu *mutation, changes []delta.Change) error {
	if len(changes) == 0 && mu.op != OperationDestroy {
		return nil
	}
	rec := mu.rec
	meta := mu.model.Meta()
	n := t.names

	if t.failHard.Load() && t.ambient != nil {
		if v, ok := t.ambient.Get(ctx, t.opts.ContinuationKey); !ok || v == nil {
			return missingActorError(meta.Name)
		}
	}

	current := t.snapshot(mu, rec.Document())
	pk := rec.PrimaryKey()
	keys := pk.Keys()
	var documentID any
	if len(keys) > 0 {
		documentID, _ = pk.Get(keys[0])
	}

	document, err := t.encodeDocument(current)
	if err != nil {
		return err
	}
	documentIDs, err := t.encodeDocument(pk)
	if err != nil {
		return err
	}

	values := map[string]any{
		n.Model:       meta.Name,
		n.Document:    document,
		n.Operation:   string(mu.op),
		n.DocumentID:  documentID,
		n.DocumentIDs: documentIDs,
		n.Revision:    toInt64(rec.Get(t.opts.RevisionAttribute)),
	}
	userID, hasActor := t.actor(ctx, mu)
	if hasActor {
		values[n.UserID] = userID
	}
	md := t.resolveMetaData(ctx, mu)
	mdKeys := make([]string, 0, len(md))
	for k := range md {
		mdKeys = append(mdKeys, k)
	}
	sort.Strings(mdKeys)
	for _, k := range mdKeys {
		if !hasMetaDataField(t.opts.MetaDataFields, k) {
			continue
		}
		if _, exists := values[k]; !exists {
			values[k] = md[k]
		}
	}

	revModel := t.revisionModel.WithSession(mu.session)
	revRec := revModel.Build(values)
	if err := revModel.Create(ctx, revRec, orm.WithSession(mu.session)); err != nil {
		return fmt.Errorf("revision: save %s for %s: %w", t.opts.RevisionModel, meta.Name, err)
	}
	result := t.toRevision(revRec)

	if t.opts.EnableRevisionChangeModel && len(changes) > 0 {
		saved, err := t.saveChanges(ctx, mu, result.ID, changes)
		if err != nil {
			return err
		}
		result.Changes = saved
	}

	if t.opts.Outbox != nil {
		if err := t.notify(ctx, mu, result); err != nil {
			return err
		}
	}

	rec.Context()[slotRevision] = result
	recordRevision(ctx, meta.Name, mu.op, len(result.Changes))
	t.log.Debug(ctx, "revision saved",
		logging.String("model", meta.Name),
		logging.String("operation", string(mu.op)),
		logging.Int64("revision", result.Revision),
		logging.Int("changes", len(result.Changes)))
	return nil
}

func hasMetaDataField(fields map[string]bool, name string) bool {
	_, ok := fields[name]
	return ok
}

// encodeDocument 结构化模式下保留文档，文本模式下序列化为 JSON
func (t *Tracker) encodeDocument(v any) (any, error) {
	if t.opts.JSONDataType() {
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("revision: encode document: %w", err)
	}
	return string(b), nil
}

// saveChanges 按差异顺序构建变更记录并以有限并发保存
func (t *Tracker) saveChanges(ctx context.Context, mu *mutation, revisionID any, changes []delta.Change) ([]*RevisionChange, error) {
	n := t.names
	model := t.changeModel.WithSession(mu.session)
	records := make([]*orm.Record, len(changes))
	for i, c := range changes {
		lhs, rhs := c.Sides()
		before, after := delta.ToString(lhs), delta.ToString(rhs)
		segments := make([]chardiff.Segment, 0)
		if before != "" || after != "" {
			segments = chardiff.Diff(before, after)
		}
		document, err := t.encodeDocument(c)
		if err != nil {
			return nil, err
		}
		diff, err := t.encodeDocument(segments)
		if err != nil {
			return nil, err
		}
		records[i] = model.Build(map[string]any{
			n.Path:       c.Attribute(),
			n.Document:   document,
			n.Diff:       diff,
			n.RevisionID: revisionID,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.ChangeSaveConcurrency)
	for _, r := range records {
		r := r
		g.Go(func() error {
			return model.Create(gctx, r, orm.WithSession(mu.session))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("revision: save %s: %w", t.opts.RevisionChangeModel, err)
	}

	out := make([]*RevisionChange, len(records))
	for i, r := range records {
		out[i] = t.toChange(r)
	}
	return out, nil
}

// notify 在同一事务内追加 revision.created 通知
func (t *Tracker) notify(ctx context.Context, mu *mutation, r *Revision) error {
	documentID := stringValue(r.DocumentID)
	entry, err := outbox.NewEntry(uuid.NewString(), EventRevisionCreated, r.Model, documentID, Notification{
		RevisionID: r.ID,
		Model:      r.Model,
		DocumentID: documentID,
		Revision:   r.Revision,
		Operation:  r.Operation,
		UserID:     r.UserID,
	})
	if err != nil {
		return fmt.Errorf("revision: encode notification: %w", err)
	}
	if err := t.opts.Outbox.Append(ctx, mu.session.Database(), entry); err != nil {
		return fmt.Errorf("revision: append outbox entry: %w", err)
	}
	return nil
}
