package backend

import "strings"

const answerTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{context}

Question: {question}
Helpful Answer:`

// BuildPrompt fills the question-answering template shared by synthesizers.
func BuildPrompt(question, passages string) string {
	r := strings.NewReplacer("{context}", passages, "{question}", question)
	return r.Replace(answerTemplate)
}
