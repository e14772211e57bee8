// Copyright 2025 Poiesic Systems
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


package badger

// Repositories bundles every repository sharing one backend.
type Repositories struct {
	Backend *Backend
	KBs     *KBRepository
	Docs    *DocumentRepository
	Chunks  *ChunkRepository
	QAs     *QARepository
	Tasks   *TaskRepository
}

// Close releases all repositories and the backend.
func (r *Repositories) Close() error {
	var first error
	for _, c := range []interface{ Close() error }{r.KBs, r.Docs, r.Chunks, r.QAs, r.Tasks, r.Backend} {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenRepositories opens a backend at path and wires every repository to it.
func OpenRepositories(path string, inMemory bool) (*Repositories, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}

	kbs, err := NewKBRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	docs, err := NewDocumentRepository(backend)
	if err != nil {
		kbs.Close()
		backend.Close()
		return nil, err
	}
	chunks, err := NewChunkRepository(backend)
	if err != nil {
		docs.Close()
		kbs.Close()
		backend.Close()
		return nil, err
	}
	qas, err := NewQARepository(backend)
	if err != nil {
		chunks.Close()
		docs.Close()
		kbs.Close()
		backend.Close()
		return nil, err
	}
	tasks, err := NewTaskRepository(backend)
	if err != nil {
		qas.Close()
		chunks.Close()
		docs.Close()
		kbs.Close()
		backend.Close()
		return nil, err
	}

	return &Repositories{
		Backend: backend,
		KBs:     kbs,
		Docs:    docs,
		Chunks:  chunks,
		QAs:     qas,
		Tasks:   tasks,
	}, nil
}

// NewMemoryRepositories creates an in-memory repository set for testing.
// Caller must close the set when done.
func NewMemoryRepositories() (*Repositories, error) {
	return OpenRepositories("", true)
}
