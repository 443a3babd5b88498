package webdav

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/davcore/davcore/internal/webdav/utils"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// PropertiesForPath 按深度遍历并查询属性。
// Depth: infinity 受 MaxDepth 限制，超出部分不再遍历。
func (s *Server) PropertiesForPath(r *Request, path string, props []string, depth int, mode PropFindMode) ([]*PropFind, error) {
	caps, err := r.Tree.Capabilities(path)
	if err != nil {
		return nil, err
	}

	root := NewPropFind(path, props, depth, mode)
	var results []*PropFind
	if err := s.collectProperties(r, root, caps, 0, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Server) collectProperties(r *Request, pf *PropFind, caps *Capabilities, level int, results *[]*PropFind) error {
	ok, err := s.PropertiesByNode(r, pf, caps)
	if err != nil {
		return err
	}
	if ok {
		*results = append(*results, pf)
	}

	if pf.Depth() == Depth0 || caps.Collection == nil {
		return nil
	}
	if pf.Depth() == DepthInfinity && level+1 > s.maxDepth {
		s.logger.WithFields(map[string]any{
			"path":      pf.Path(),
			"max_depth": s.maxDepth,
		}).Warn("propfind depth limit reached, not descending further")
		return nil
	}

	children, err := r.Tree.Children(pf.Path())
	if err != nil {
		return err
	}
	childDepth := pf.Depth()
	if childDepth != DepthInfinity {
		childDepth--
	}
	for _, child := range children {
		childPath := utils.Path.Join(pf.Path(), child.Name())
		childCaps, err := r.Tree.Capabilities(childPath)
		if err != nil {
			return err
		}
		if err := s.collectProperties(r, pf.ForPath(childPath, childDepth), childCaps, level+1, results); err != nil {
			return err
		}
	}
	return nil
}

// PropertiesByNode 触发 propFind 事件并设置 href；返回 false 表示该节点被插件隐藏
func (s *Server) PropertiesByNode(r *Request, pf *PropFind, caps *Capabilities) (bool, error) {
	types := s.ResourceTypes.Of(caps.Node, caps)
	pf.SetHref(s.Href(pf.Path(), types.Is(davxml.DAV("collection")) || types.Is(davxml.DAV("principal"))))
	return s.emit(r, EventPropFind, pf, caps.Node)
}

// Properties 查询单个路径的属性，只返回状态为 200 的值
func (s *Server) Properties(r *Request, path string, props []string) (map[string]any, error) {
	results, err := s.PropertiesForPath(r, path, props, Depth0, PropFindNormal)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if len(results) > 0 {
		for name, value := range results[0].ResultForMultistatus()[http.StatusOK] {
			out[name] = value
		}
	}
	return out, nil
}

// PropertiesForMultiplePaths 批量查询，不存在的路径返回 404 response
func (s *Server) PropertiesForMultiplePaths(r *Request, paths []string, props []string) ([]*Response, error) {
	var responses []*Response
	for _, path := range paths {
		caps, err := r.Tree.Capabilities(path)
		if err != nil {
			if IsNotFound(err) {
				responses = append(responses, &Response{Href: s.Href(path, false), Status: http.StatusNotFound})
				continue
			}
			return nil, err
		}
		pf := NewPropFind(path, props, Depth0, PropFindNormal)
		ok, err := s.PropertiesByNode(r, pf, caps)
		if err != nil {
			return nil, err
		}
		if ok {
			responses = append(responses, ResponseFromPropFind(pf, r.Minimal()))
		}
	}
	return responses, nil
}

// UpdateProperties 触发 propPatch 事件并提交，返回每个属性的状态码
func (s *Server) UpdateProperties(r *Request, path string, properties map[string]any, order []string) (map[string]int, error) {
	pp := NewPropPatchOrdered(properties, order)
	if _, err := s.emit(r, EventPropPatch, path, pp); err != nil {
		return nil, err
	}
	pp.Commit()
	return pp.Result(), nil
}

// checkQuota 写入 size 字节前检查配额
func (s *Server) checkQuota(caps *Capabilities, size int64) error {
	if caps == nil || caps.Quota == nil {
		return nil
	}
	_, available, err := caps.Quota.QuotaInfo()
	if err != nil {
		return err
	}
	if available >= 0 && size > available {
		return ErrInsufficientStorage(fmt.Sprintf("insufficient storage: %s requested, %s available",
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(available))))
	}
	return nil
}

// CreateFile 创建文件。返回 false 表示插件接管了请求。
func (s *Server) CreateFile(r *Request, path string, data []byte) (string, bool, error) {
	parentPath, name := utils.Path.Split(path)

	if ok, err := s.emit(r, EventBeforeBind, path); err != nil || !ok {
		return "", false, err
	}

	parent, err := r.Tree.Capabilities(parentPath)
	if err != nil {
		if IsNotFound(err) {
			return "", false, ErrConflict("files can only be created as children of collections")
		}
		return "", false, err
	}
	if parent.Collection == nil {
		return "", false, ErrConflict("files can only be created as children of collections")
	}
	if err := s.checkQuota(parent, int64(len(data))); err != nil {
		return "", false, err
	}

	modified := false
	if ok, err := s.emit(r, EventBeforeCreateFile, path, &data, parent.Collection, &modified); err != nil || !ok {
		return "", false, err
	}

	etag, err := parent.Collection.CreateFile(name, bytes.NewReader(data))
	if err != nil {
		return "", false, err
	}
	if modified {
		etag = ""
	}
	r.Tree.MarkDirty(path)

	if _, err := s.emit(r, EventAfterBind, path); err != nil {
		return "", false, err
	}
	if _, err := s.emit(r, EventAfterCreateFile, path, parent.Collection); err != nil {
		return "", false, err
	}
	return etag, true, nil
}

// UpdateFile 覆盖已有文件。返回 false 表示插件接管了请求。
func (s *Server) UpdateFile(r *Request, path string, data []byte) (string, bool, error) {
	caps, err := r.Tree.Capabilities(path)
	if err != nil {
		return "", false, err
	}
	if caps.File == nil {
		return "", false, ErrMethodNotAllowed("PUT is not allowed on non-files", s.AllowedMethods(r.Tree, path))
	}
	if err := s.checkQuota(caps, int64(len(data))-caps.File.Size()); err != nil {
		return "", false, err
	}

	modified := false
	if ok, err := s.emit(r, EventBeforeWriteContent, path, caps.File, &data, &modified); err != nil || !ok {
		return "", false, err
	}

	etag, err := caps.File.Put(bytes.NewReader(data))
	if err != nil {
		return "", false, err
	}
	if modified {
		etag = ""
	}
	r.Tree.MarkDirty(path)

	if _, err := s.emit(r, EventAfterWriteContent, path, caps.File); err != nil {
		return "", false, err
	}
	return etag, true, nil
}

// CreateCollection 创建集合。
// 属性设置失败时返回描述失败的 response，此时集合已经创建。
func (s *Server) CreateCollection(r *Request, path string, mkcol *MkCol) (*Response, error) {
	parentPath, name := utils.Path.Split(path)

	parent, err := r.Tree.Capabilities(parentPath)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrConflict("parent node does not exist")
		}
		return nil, err
	}
	if parent.Collection == nil {
		return nil, ErrConflict("parent node is not a collection")
	}
	if parent.Collection.ChildExists(name) {
		return nil, ErrMethodNotAllowed("the resource you tried to create already exists", s.AllowedMethods(r.Tree, path))
	}

	if ok, err := s.emit(r, EventBeforeBind, path); err != nil || !ok {
		return nil, err
	}

	if parent.Extended != nil {
		if err := parent.Extended.CreateExtendedCollection(name, mkcol); err != nil {
			return nil, err
		}
	} else {
		if len(mkcol.ResourceType) > 1 {
			return nil, ErrForbidden("the {DAV:}resourcetype you specified is not supported here").
				WithCondition(davxml.DAV("valid-resourcetype"))
		}
		if err := parent.Collection.CreateDirectory(name); err != nil {
			return nil, err
		}
	}
	r.Tree.MarkDirty(path)

	if len(mkcol.GetRemainingMutations()) > 0 {
		if _, err := s.emit(r, EventPropPatch, path, mkcol.PropPatch); err != nil {
			return nil, err
		}
	}
	if !mkcol.Commit() {
		return ResponseFromPatchResult(s.Href(path, true), mkcol.Result(), mkcol.Order()), nil
	}

	if _, err := s.emit(r, EventAfterBind, path); err != nil {
		return nil, err
	}
	return nil, nil
}
