package pubmed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/papersources"
)

const esearchXML = `<?xml version="1.0" encoding="UTF-8" ?>
<eSearchResult>
	<Count>3</Count>
	<RetMax>2</RetMax>
	<RetStart>0</RetStart>
	<IdList>
		<Id>31111111</Id>
		<Id>32222222</Id>
	</IdList>
</eSearchResult>`

const esearchCountXML = `<?xml version="1.0" encoding="UTF-8" ?>
<eSearchResult>
	<Count>1234</Count>
	<RetMax>0</RetMax>
	<RetStart>0</RetStart>
	<IdList></IdList>
</eSearchResult>`

const esearchPhraseNotFoundXML = `<?xml version="1.0" encoding="UTF-8" ?>
<eSearchResult>
	<Count>0</Count>
	<IdList></IdList>
	<ErrorList>
		<PhraseNotFound>qwertyuiop</PhraseNotFound>
	</ErrorList>
</eSearchResult>`

const efetchXML = `<?xml version="1.0" encoding="UTF-8" ?>
<PubmedArticleSet>
	<PubmedArticle>
		<MedlineCitation Status="MEDLINE" Owner="NLM">
			<PMID Version="1">31111111</PMID>
			<Article PubModel="Print-Electronic">
				<Journal>
					<JournalIssue CitedMedium="Internet">
						<Volume>12</Volume>
						<PubDate>
							<Year>2021</Year>
							<Month>Jun</Month>
						</PubDate>
					</JournalIssue>
					<Title>Journal of Dermatological Science</Title>
					<ISOAbbreviation>J Dermatol Sci</ISOAbbreviation>
				</Journal>
				<ArticleTitle>Checkpoint inhibitors in advanced melanoma</ArticleTitle>
				<ELocationID EIdType="pii" ValidYN="Y">S0923-1811(21)00001-1</ELocationID>
				<ELocationID EIdType="doi" ValidYN="Y">10.1016/j.jdermsci.2021.01.001</ELocationID>
				<Abstract>
					<AbstractText Label="BACKGROUND">Survival in advanced melanoma has improved.</AbstractText>
					<AbstractText Label="RESULTS">Response rates reached 40 percent.</AbstractText>
				</Abstract>
				<AuthorList CompleteYN="Y">
					<Author ValidYN="Y">
						<LastName>Okafor</LastName>
						<ForeName>Ada</ForeName>
					</Author>
					<Author ValidYN="N">
						<LastName>Ghost</LastName>
						<ForeName>Invalid</ForeName>
					</Author>
					<Author ValidYN="Y">
						<LastName>Lindqvist</LastName>
					</Author>
					<Author ValidYN="Y">
						<CollectiveName>Melanoma Study Group</CollectiveName>
					</Author>
				</AuthorList>
			</Article>
		</MedlineCitation>
		<PubmedData>
			<ArticleIdList>
				<ArticleId IdType="pubmed">31111111</ArticleId>
				<ArticleId IdType="doi">10.9999/ignored</ArticleId>
			</ArticleIdList>
		</PubmedData>
	</PubmedArticle>
	<PubmedArticle>
		<MedlineCitation Status="MEDLINE" Owner="NLM">
			<PMID Version="1">32222222</PMID>
			<Article PubModel="Print">
				<Journal>
					<JournalIssue CitedMedium="Print">
						<PubDate>
							<MedlineDate>2019 Nov-Dec</MedlineDate>
						</PubDate>
					</JournalIssue>
					<ISOAbbreviation>Br J Dermatol</ISOAbbreviation>
				</Journal>
				<ArticleTitle>Sentinel node biopsy outcomes</ArticleTitle>
				<Abstract>
					<AbstractText>A retrospective cohort.</AbstractText>
				</Abstract>
			</Article>
		</MedlineCitation>
		<PubmedData>
			<ArticleIdList>
				<ArticleId IdType="pubmed">32222222</ArticleId>
				<ArticleId IdType="doi">10.1111/bjd.18000</ArticleId>
			</ArticleIdList>
		</PubmedData>
	</PubmedArticle>
</PubmedArticleSet>`

func createTestClient(baseURL string, enabled bool) *Client {
	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:   5 * time.Second,
		RateLimit: 100,
		BurstSize: 10,
	})
	return NewWithHTTPClient(Config{
		BaseURL: baseURL,
		Enabled: enabled,
		APIKey:  "test-key",
	}, httpClient)
}

func TestNew(t *testing.T) {
	client := New(Config{Enabled: true})
	require.NotNil(t, client)
	assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
	assert.Equal(t, DefaultTimeout, client.config.Timeout)
	assert.Equal(t, DefaultRateLimit, client.config.RateLimit)
	assert.Equal(t, DefaultMaxResults, client.config.MaxResults)
	assert.Equal(t, "PubMed", client.Name())
	assert.True(t, client.IsEnabled())

	var _ papersources.MetadataSource = client
}

func TestClient_Search(t *testing.T) {
	t.Run("maps articles to paper records", func(t *testing.T) {
		var esearchQuery, efetchIDs, apiKey string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey = r.URL.Query().Get("api_key")
			switch {
			case strings.HasSuffix(r.URL.Path, "/esearch.fcgi"):
				esearchQuery = r.URL.Query().Get("term")
				assert.Equal(t, "2", r.URL.Query().Get("retmax"))
				w.Write([]byte(esearchXML))
			case strings.HasSuffix(r.URL.Path, "/efetch.fcgi"):
				efetchIDs = r.URL.Query().Get("id")
				w.Write([]byte(efetchXML))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		client := createTestClient(server.URL, true)
		result, err := client.Search(context.Background(), papersources.SearchParams{
			Query:      "melanoma",
			MaxResults: 2,
		})
		require.NoError(t, err)

		assert.Equal(t, "melanoma", esearchQuery)
		assert.Equal(t, "31111111,32222222", efetchIDs)
		assert.Equal(t, "test-key", apiKey)
		assert.Equal(t, 3, result.TotalResults)
		assert.True(t, result.HasMore)
		assert.Equal(t, 2, result.NextOffset)
		require.Len(t, result.Papers, 2)

		first := result.Papers[0]
		assert.Equal(t, "Checkpoint inhibitors in advanced melanoma", first.Title)
		assert.Equal(t, "Ada Okafor, Lindqvist, Melanoma Study Group", first.Authors)
		assert.Equal(t, "2021", first.Year)
		assert.Equal(t, "Journal of Dermatological Science", first.Journal)
		assert.Equal(t, "10.1016/j.jdermsci.2021.01.001", first.DOI)
		assert.Equal(t, "31111111", first.PMID)
		assert.Equal(t, "https://pubmed.ncbi.nlm.nih.gov/31111111/", first.PubMedURL)
		assert.Equal(t, "BACKGROUND: Survival in advanced melanoma has improved. RESULTS: Response rates reached 40 percent.", first.Abstract)
		assert.False(t, first.Availability.IsAvailable)

		second := result.Papers[1]
		assert.Equal(t, "2019", second.Year)
		assert.Equal(t, "Br J Dermatol", second.Journal)
		assert.Equal(t, "10.1111/bjd.18000", second.DOI)
		assert.Empty(t, second.Authors)
		assert.Equal(t, "A retrospective cohort.", second.Abstract)
	})

	t.Run("phrase not found returns empty result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/efetch.fcgi") {
				t.Error("efetch should not be called")
			}
			w.Write([]byte(esearchPhraseNotFoundXML))
		}))
		defer server.Close()

		result, err := createTestClient(server.URL, true).Search(context.Background(), papersources.SearchParams{Query: "qwertyuiop"})
		require.NoError(t, err)
		assert.Empty(t, result.Papers)
		assert.Zero(t, result.TotalResults)
	})

	t.Run("disabled source", func(t *testing.T) {
		_, err := createTestClient("http://unused.invalid", false).Search(context.Background(), papersources.SearchParams{Query: "x"})
		assert.ErrorIs(t, err, ErrDisabled)
	})

	t.Run("upstream error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte("bad term"))
		}))
		defer server.Close()

		_, err := createTestClient(server.URL, true).Search(context.Background(), papersources.SearchParams{Query: "x"})
		require.Error(t, err)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	})

	t.Run("malformed xml", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<eSearchResult><Count>"))
		}))
		defer server.Close()

		_, err := createTestClient(server.URL, true).Search(context.Background(), papersources.SearchParams{Query: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse XML response")
	})
}

func TestClient_Count(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/esearch.fcgi"))
		assert.Equal(t, "0", r.URL.Query().Get("retmax"))
		w.Write([]byte(esearchCountXML))
	}))
	defer server.Close()

	n, err := createTestClient(server.URL, true).Count(context.Background(), "melanoma")
	require.NoError(t, err)
	assert.Equal(t, 1234, n)
}

func TestClient_limit(t *testing.T) {
	client := createTestClient("http://unused.invalid", true)
	assert.Equal(t, DefaultMaxResults, client.limit(0))
	assert.Equal(t, 25, client.limit(25))
	assert.Equal(t, MaxResultsLimit, client.limit(MaxResultsLimit+1))
}

func TestExtractYear(t *testing.T) {
	tests := []struct {
		name    string
		article Article
		want    string
	}{
		{
			name:    "pub date year",
			article: Article{Journal: Journal{JournalIssue: JournalIssue{PubDate: PubDate{Year: "2020"}}}},
			want:    "2020",
		},
		{
			name:    "medline date",
			article: Article{Journal: Journal{JournalIssue: JournalIssue{PubDate: PubDate{MedlineDate: "2018 Spring"}}}},
			want:    "2018",
		},
		{
			name:    "article date fallback",
			article: Article{ArticleDate: []ArticleDate{{DateType: "Electronic", Year: "2024"}}},
			want:    "2024",
		},
		{
			name:    "unparseable medline date",
			article: Article{Journal: Journal{JournalIssue: JournalIssue{PubDate: PubDate{MedlineDate: "Spring"}}}},
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractYear(tt.article))
		})
	}
}
