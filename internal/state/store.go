// Package state はウォーターマークの永続化を提供する。
// subreddit×ストリーム（posts/comments）ごとの処理済み最新位置を
// last_check.jsonに保存する。ファイルは人間が直接確認・編集でき、
// 単一エントリの削除でそのストリームだけを再ベースライン化できる。
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hitoshi/subwatch/internal/model"
)

// Store はウォーターマーク永続化のインターフェース。
// エンジンとリセットコマンドから利用する。並行利用に安全であること。
type Store interface {
	// Get は指定ストリームのウォーターマークを返す。
	// 前回状態が存在しない場合（初回実行）はfalseを返す。
	Get(subreddit string, kind model.ItemKind) (model.Watermark, bool)
	// Set は指定ストリームのウォーターマークを永続化する。
	// プロセスクラッシュに対してアトミックであること（旧値か新値のどちらか）。
	// 永続化失敗はCategoryPersistenceのエラーとして報告される。
	Set(subreddit string, kind model.ItemKind, w model.Watermark) error
	// Reset は指定subredditの全ストリームのウォーターマークを削除する。
	Reset(subreddit string) error
	// ResetAll は全ウォーターマークを削除する（状態ファイルの削除）。
	ResetAll() error
}

// streamKey はストリームの永続化キーを返す。
// 原典のlast_check.jsonと同じ "<subreddit>_posts" / "<subreddit>_comments" 形式。
func streamKey(subreddit string, kind model.ItemKind) string {
	if kind == model.KindComment {
		return subreddit + "_comments"
	}
	return subreddit + "_posts"
}

// FileStore はJSONファイルベースのStore実装。
// 書き込みは一時ファイル作成→renameで行い、クラッシュ時にも
// 破損した中間状態を残さない。
type FileStore struct {
	path string

	mu    sync.Mutex
	state map[string]model.Watermark
}

// NewFileStore はFileStoreを生成し、既存の状態ファイルを読み込む。
// ファイルが存在しない場合は空の状態で開始する。
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:  path,
		state: make(map[string]model.Watermark),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("状態ファイルの読み込みに失敗しました: %w", err)
	}

	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("状態ファイルのパースに失敗しました: %w", err)
	}

	return s, nil
}

// Get は指定ストリームのウォーターマークを返す。
func (s *FileStore) Get(subreddit string, kind model.ItemKind) (model.Watermark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.state[streamKey(subreddit, kind)]
	return w, ok
}

// Set は指定ストリームのウォーターマークを永続化する。
// ウォーターマークは単調に進むのみ: 既存値より古い値は黙って無視する。
func (s *FileStore) Set(subreddit string, kind model.ItemKind, w model.Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(subreddit, kind)
	if cur, ok := s.state[key]; ok {
		if w.CreatedAt < cur.CreatedAt || (w.CreatedAt == cur.CreatedAt && w.ID <= cur.ID) {
			return nil
		}
	}

	s.state[key] = w
	if err := s.save(); err != nil {
		return model.NewStatePersistError(err.Error())
	}
	return nil
}

// Reset は指定subredditの全ストリームのウォーターマークを削除する。
func (s *FileStore) Reset(subreddit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.state, streamKey(subreddit, model.KindPost))
	delete(s.state, streamKey(subreddit, model.KindComment))

	if err := s.save(); err != nil {
		return model.NewStatePersistError(err.Error())
	}
	return nil
}

// ResetAll は全ウォーターマークを削除し、状態ファイル自体を削除する。
func (s *FileStore) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = make(map[string]model.Watermark)
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return model.NewStatePersistError(err.Error())
	}
	return nil
}

// save は現在の状態をアトミックにファイルへ書き出す。
// 同一ディレクトリに一時ファイルを作成してからrenameする。
// 呼び出し側でmuを保持していること。
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".last_check-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
