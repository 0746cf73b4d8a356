package revision

import (
	"context"
	"math"

	"gorevision/data/orm"
	"gorevision/errors"
)

// Query 修订历史查询条件
type Query struct {
	Model      string
	DocumentID any
	Operation  Operation
	// Page 从 1 开始，Size 为 0 时使用 20
	Page int
	Size int
	// Desc 按修订号倒序
	Desc bool
}

// Page 分页结果
type Page[T any] struct {
	Data       []*T
	Total      int64
	Page       int
	Size       int
	TotalPages int
}

// Store 修订记录只读访问
type Store struct {
	tracker *Tracker
}

// Store 返回修订读取入口
func (t *Tracker) Store() *Store { return &Store{tracker: t} }

func (s *Store) models(ctx context.Context) (orm.IModel, orm.IModel, error) {
	return s.tracker.DefineModels(ctx)
}

func (s *Store) filters(q Query) []orm.QueryOption {
	n := s.tracker.names
	var opts []orm.QueryOption
	if q.Model != "" {
		opts = append(opts, orm.WithEquals(n.Model, q.Model))
	}
	if q.DocumentID != nil {
		opts = append(opts, orm.WithEquals(n.DocumentID, stringValue(q.DocumentID)))
	}
	if q.Operation != "" {
		opts = append(opts, orm.WithEquals(n.Operation, string(q.Operation)))
	}
	return opts
}

// ListRevisions 分页读取修订
func (s *Store) ListRevisions(ctx context.Context, q Query) (*Page[Revision], error) {
	revModel, _, err := s.models(ctx)
	if err != nil {
		return nil, err
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Size <= 0 {
		q.Size = 20
	}

	filters := s.filters(q)
	total, err := revModel.Count(ctx, filters...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "统计修订记录失败")
	}

	n := s.tracker.names
	opts := append(filters,
		orm.WithOrder(n.Revision, q.Desc),
		orm.WithOrder(n.ID, q.Desc),
		orm.WithOffset((q.Page-1)*q.Size),
		orm.WithLimit(q.Size),
	)
	rows, err := revModel.Find(ctx, opts...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "查询修订记录失败")
	}

	data := make([]*Revision, len(rows))
	for i, row := range rows {
		data[i] = s.tracker.toRevision(row)
	}
	return &Page[Revision]{
		Data:       data,
		Total:      total,
		Page:       q.Page,
		Size:       q.Size,
		TotalPages: int(math.Ceil(float64(total) / float64(q.Size))),
	}, nil
}

// LatestRevision 返回记录的最新修订，不存在时返回 NOT_FOUND
func (s *Store) LatestRevision(ctx context.Context, model string, documentID any) (*Revision, error) {
	revModel, _, err := s.models(ctx)
	if err != nil {
		return nil, err
	}
	n := s.tracker.names
	row, err := revModel.First(ctx,
		orm.WithEquals(n.Model, model),
		orm.WithEquals(n.DocumentID, stringValue(documentID)),
		orm.WithOrder(n.Revision, true),
		orm.WithOrder(n.ID, true),
	)
	if err != nil {
		if errors.IsNotFound(errors.Normalize(err)) {
			return nil, errors.NewErrorf(errors.ErrCodeNotFound, "%s %v 没有修订记录", model, documentID)
		}
		return nil, err
	}
	return s.tracker.toRevision(row), nil
}

// ListChanges 读取修订的字段级变更，未启用变更模型时返回空
func (s *Store) ListChanges(ctx context.Context, revisionID any) ([]*RevisionChange, error) {
	_, changeModel, err := s.models(ctx)
	if err != nil {
		return nil, err
	}
	if changeModel == nil {
		return nil, nil
	}
	n := s.tracker.names
	rows, err := changeModel.Find(ctx,
		orm.WithEquals(n.RevisionID, revisionID),
		orm.WithOrder(n.ID, false),
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "查询修订变更失败")
	}
	out := make([]*RevisionChange, len(rows))
	for i, row := range rows {
		out[i] = s.tracker.toChange(row)
	}
	return out, nil
}

// WithChanges 为修订填充字段级变更
func (s *Store) WithChanges(ctx context.Context, r *Revision) (*Revision, error) {
	changes, err := s.ListChanges(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Changes = changes
	return r, nil
}
