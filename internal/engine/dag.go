package engine

import (
	"fmt"

	"github.com/shaiso/Taskflow/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Task — определение task из WorkflowSpec.
	Task *domain.TaskSpec

	// Name — имя task.
	Name string

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// DAG — направленный ациклический граф tasks workflow.
type DAG struct {
	// Nodes — все узлы графа (имя → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа), в порядке spec.
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// BuildDAG строит DAG из WorkflowSpec и проверяет отсутствие циклов.
func BuildDAG(spec *domain.WorkflowSpec) (*DAG, error) {
	dag := &DAG{
		Nodes:     make(map[string]*Node, len(spec.Tasks)),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	for i := range spec.Tasks {
		task := &spec.Tasks[i]
		dag.Nodes[task.Name] = &Node{
			Task:       task,
			Name:       task.Name,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for i := range spec.Tasks {
		task := &spec.Tasks[i]
		node := dag.Nodes[task.Name]
		for _, depName := range task.DependsOn {
			depNode, exists := dag.Nodes[depName]
			if !exists {
				return nil, NewValidationError(task.Name, "dependsOn",
					fmt.Sprintf("depends on unknown task: %s", depName), ErrMissingDependency)
			}
			dag.addEdge(depNode, node)
		}
	}

	// Корневые узлы в порядке объявления, чтобы Order был детерминированным
	for i := range spec.Tasks {
		node := dag.Nodes[spec.Tasks[i].Name]
		if node.InDegree == 0 {
			dag.RootNodes = append(dag.RootNodes, node)
		}
	}

	order, err := dag.topologicalSort()
	if err != nil {
		return nil, err
	}
	dag.Order = order

	return dag, nil
}

// addEdge добавляет ребро from → to.
// Дубликаты игнорируются, чтобы не учитывать InDegree дважды.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.Name == from.Name {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (d *DAG) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(d.Nodes))
	for name, node := range d.Nodes {
		inDegree[name] = node.InDegree
	}

	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.Name]--
			if inDegree[dependent.Name] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(d.Nodes) {
		return nil, NewValidationError("", "dependsOn",
			fmt.Sprintf("cyclic dependency among %d tasks", len(d.Nodes)-len(order)), ErrCyclicDependency)
	}

	return order, nil
}

// GetNode возвращает узел по имени.
func (d *DAG) GetNode(name string) *Node {
	return d.Nodes[name]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// Tasks возвращает определения tasks в топологическом порядке.
func (d *DAG) Tasks() []domain.TaskSpec {
	out := make([]domain.TaskSpec, 0, len(d.Order))
	for _, node := range d.Order {
		out = append(out, *node.Task)
	}
	return out
}
