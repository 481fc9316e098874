// Copyright 2026 the stream-merge authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robber-m/stream-merge/pkg/fetch"
)

// RemoteLister enumerates object-storage keys for one bucket.
type RemoteLister interface {
	List(ctx context.Context, prefix string) ([]fetch.ObjectInfo, error)
}

// Resolver expands command-line arguments into the ordered descriptor list
// the merge runs over. Argument order is preserved; a prefix or directory
// argument expands in lexicographic key order so runs are reproducible.
type Resolver struct {
	// ListerFor returns the lister for a bucket, constructing a client on
	// first use.
	ListerFor func(ctx context.Context, bucket string) (RemoteLister, error)
}

// Resolve turns each argument into one or more descriptors.
//
//   - s3://bucket/key        one remote object
//   - s3://bucket/prefix/    every object under the prefix
//   - path/to/file.pcap.gz   one local file
//   - path/to/dir/           every regular file in the directory tree
func (r *Resolver) Resolve(ctx context.Context, args []string) ([]Descriptor, error) {
	var out []Descriptor
	for _, arg := range args {
		var err error
		if IsS3URI(arg) {
			out, err = r.appendRemote(ctx, out, arg)
		} else {
			out, err = appendLocal(out, arg)
		}
		if err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no input sources")
	}
	for i := range out {
		out[i].Index = i
	}
	return out, nil
}

func (r *Resolver) appendRemote(ctx context.Context, out []Descriptor, uri string) ([]Descriptor, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(key, "/") {
		out = append(out, Descriptor{Identity: uri, Origin: OriginRemote})
		return out, nil
	}
	lister, err := r.ListerFor(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", uri, err)
	}
	objs, err := lister.List(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", uri, err)
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("no objects under %s", uri)
	}
	sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })
	for _, obj := range objs {
		out = append(out, Descriptor{
			Identity: S3URI(bucket, obj.Key),
			SizeHint: obj.Size,
			Origin:   OriginRemote,
		})
	}
	return out, nil
}

func appendLocal(out []Descriptor, path string) ([]Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		out = append(out, Descriptor{Identity: path, SizeHint: info.Size()})
		return out, nil
	}
	var files []Descriptor
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, Descriptor{Identity: p, SizeHint: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files under %s", path)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Identity < files[j].Identity })
	return append(out, files...), nil
}
